package gossip

import (
	"testing"

	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/stretchr/testify/require"
)

func TestEncodeEmptyPingMatchesSpecExample(t *testing.T) {
	msg := Message{Type: Ping, SenderID: 42, Sequence: 12345}
	buf := Encode(msg)

	require.Len(t, buf, 16)
	require.Equal(t, byte(0x01), buf[0])
	require.Equal(t, byte(0x01), buf[1])
}

func TestRoundTrip(t *testing.T) {
	msg := Message{
		Type:     Alive,
		SenderID: 7,
		Sequence: 99,
		Updates: []cluster.Update{
			{NodeID: 2, NodeType: cluster.Worker, Status: cluster.Alive, IP: "10.0.0.2", GossipPort: 7001, DataPort: 7002, Incarnation: 3, TimestampMS: 1000},
		},
	}

	got, err := Decode(Encode(msg))
	require.NoError(t, err)
	require.Equal(t, msg.Type, got.Type)
	require.Equal(t, msg.SenderID, got.SenderID)
	require.Equal(t, msg.Sequence, got.Sequence)
	require.Equal(t, msg.Updates, got.Updates)
	require.Zero(t, got.Truncated)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	buf := Encode(Message{Type: Ping, SenderID: 1})
	buf[0] = 2
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeTruncatedMidUpdate(t *testing.T) {
	msg := Message{
		Type: Ping,
		Updates: []cluster.Update{
			{NodeID: 1}, {NodeID: 2}, {NodeID: 3},
		},
	}
	buf := Encode(msg)
	// cut the final update in half, simulating a short datagram.
	buf = buf[:len(buf)-updateSize/2]

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, got.Updates, 2)
	require.Equal(t, 1, got.Truncated)
}

func TestEncodeBootstrapJoinResponse(t *testing.T) {
	msg := Message{
		Type: JoinResponse,
		Bootstrap: []BootstrapRecord{
			{NodeID: 1, GossipAddr: "10.0.0.1:10001", DataAddr: "10.0.0.1:10002"},
		},
	}

	got, err := Decode(Encode(msg))
	require.NoError(t, err)
	require.Equal(t, msg.Bootstrap, got.Bootstrap)
}
