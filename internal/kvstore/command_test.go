package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSetRoundTrip(t *testing.T) {
	cmd, err := Decode(EncodeSet("widgets/1", []byte("payload")))
	require.NoError(t, err)
	require.Equal(t, Command{Type: CmdSet, Key: "widgets/1", Value: []byte("payload")}, cmd)
}

func TestEncodeDecodeUnsetRoundTrip(t *testing.T) {
	cmd, err := Decode(EncodeUnset("widgets/1"))
	require.NoError(t, err)
	require.Equal(t, Command{Type: CmdUnset, Key: "widgets/1"}, cmd)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 0})
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	buf := EncodeSet("k", nil)
	buf[0] = 9
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestDecodeRejectsTruncatedValue(t *testing.T) {
	buf := EncodeSet("k", []byte("value"))
	_, err := Decode(buf[:len(buf)-2])
	require.ErrorIs(t, err, ErrInvalidCommand)
}
