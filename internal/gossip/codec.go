package gossip

import (
	"encoding/binary"
	"errors"

	"github.com/meshraft/meshraft/internal/cluster"
	"github.com/meshraft/meshraft/internal/wire"
)

const (
	headerSize = 16
	updateSize = 40
	ipFieldLen = 16

	bootstrapCountSize = 1
	addrFieldLen       = 64
	bootstrapRecordLen = 2 + addrFieldLen + addrFieldLen
)

// ErrUnsupportedVersion is returned by Decode for any version other
// than the one this codec implements (spec §8: "version != 1 rejected").
var ErrUnsupportedVersion = errors.New("gossip: unsupported wire version")

// ErrTruncated is returned by Decode when the header cannot even be
// read; a mid-update truncation is not an error (spec §8) and instead
// populates Message.Truncated.
var ErrTruncated = errors.New("gossip: truncated header")

// Encode serializes msg into its UDP payload form.
func Encode(msg Message) []byte {
	n := len(msg.Updates)
	if n > MaxPiggyback {
		n = MaxPiggyback
	}

	buf := make([]byte, 0, headerSize+n*updateSize)
	buf = append(buf, Version, byte(msg.Type))
	buf = wire.PutUint16(buf, msg.Flags)
	buf = wire.PutUint16(buf, msg.SenderID)
	buf = wire.PutUint64(buf, msg.Sequence)
	buf = append(buf, byte(n), 0)

	for i := 0; i < n; i++ {
		buf = encodeUpdate(buf, msg.Updates[i])
	}

	if msg.Type == JoinResponse {
		nr := len(msg.Bootstrap)
		if nr > 255 {
			nr = 255
		}
		buf = append(buf, byte(nr))
		for i := 0; i < nr; i++ {
			r := msg.Bootstrap[i]
			buf = wire.PutUint16(buf, r.NodeID)
			buf = wire.PutASCII(buf, r.GossipAddr, addrFieldLen)
			buf = wire.PutASCII(buf, r.DataAddr, addrFieldLen)
		}
	}

	return buf
}

func encodeUpdate(buf []byte, u cluster.Update) []byte {
	buf = wire.PutUint16(buf, u.NodeID)
	buf = append(buf, byte(u.NodeType), byte(u.Status))
	buf = wire.PutASCII(buf, u.IP, ipFieldLen)
	buf = wire.PutUint16(buf, u.GossipPort)
	buf = wire.PutUint16(buf, u.DataPort)
	buf = wire.PutUint64(buf, u.Incarnation)
	buf = wire.PutUint64(buf, uint64(u.TimestampMS))
	return buf
}

// Decode parses a UDP payload. A payload truncated mid-update is
// accepted up to the last whole update, with Message.Truncated set to
// the number of updates the header promised but the payload did not
// contain (spec §8).
func Decode(buf []byte) (Message, error) {
	if len(buf) < headerSize {
		return Message{}, ErrTruncated
	}

	version := buf[0]
	if version != Version {
		return Message{}, ErrUnsupportedVersion
	}

	msg := Message{
		Version:  version,
		Type:     MsgType(buf[1]),
		Flags:    binary.BigEndian.Uint16(buf[2:4]),
		SenderID: binary.BigEndian.Uint16(buf[4:6]),
		Sequence: binary.BigEndian.Uint64(buf[6:14]),
	}

	numUpdates := int(buf[14])
	rest := buf[headerSize:]

	avail := len(rest) / updateSize
	got := numUpdates
	if got > avail {
		got = avail
	}
	msg.Truncated = numUpdates - got

	msg.Updates = make([]cluster.Update, 0, got)
	for i := 0; i < got; i++ {
		rec := rest[i*updateSize : (i+1)*updateSize]
		msg.Updates = append(msg.Updates, decodeUpdate(rec))
	}

	if msg.Type == JoinResponse {
		brest := rest[got*updateSize:]
		if len(brest) >= bootstrapCountSize {
			nr := int(brest[0])
			brest = brest[bootstrapCountSize:]
			navail := len(brest) / bootstrapRecordLen
			if nr > navail {
				nr = navail
			}
			msg.Bootstrap = make([]BootstrapRecord, 0, nr)
			for i := 0; i < nr; i++ {
				rec := brest[i*bootstrapRecordLen : (i+1)*bootstrapRecordLen]
				msg.Bootstrap = append(msg.Bootstrap, BootstrapRecord{
					NodeID:     binary.BigEndian.Uint16(rec[0:2]),
					GossipAddr: wire.ASCIIField(rec[2 : 2+addrFieldLen]),
					DataAddr:   wire.ASCIIField(rec[2+addrFieldLen : 2+2*addrFieldLen]),
				})
			}
		}
	}

	return msg, nil
}

func decodeUpdate(rec []byte) cluster.Update {
	return cluster.Update{
		NodeID:      binary.BigEndian.Uint16(rec[0:2]),
		NodeType:    cluster.NodeType(rec[2]),
		Status:      cluster.Status(rec[3]),
		IP:          wire.ASCIIField(rec[4 : 4+ipFieldLen]),
		GossipPort:  binary.BigEndian.Uint16(rec[20:22]),
		DataPort:    binary.BigEndian.Uint16(rec[22:24]),
		Incarnation: binary.BigEndian.Uint64(rec[24:32]),
		TimestampMS: int64(binary.BigEndian.Uint64(rec[32:40])),
	}
}
