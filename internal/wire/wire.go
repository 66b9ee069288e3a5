// Package wire holds the big-endian integer codec and length-prefixed
// framing primitives shared by the gossip datagram codec, the RPC
// substrate, and the Raft RPC payload codec (spec §6).
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// ErrFrameTooSmall is returned when a frame's declared length is below
// the minimum header size for its protocol.
var ErrFrameTooSmall = errors.New("wire: frame length below minimum header size")

// MaxFrameSize bounds a single frame to guard against a corrupt or
// hostile length prefix forcing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64MiB

// PutUint16 appends a big-endian uint16.
func PutUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return append(buf, b...)
}

// PutUint32 appends a big-endian uint32.
func PutUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return append(buf, b...)
}

// PutUint64 appends a big-endian uint64.
func PutUint64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return append(buf, b...)
}

// PutASCII appends s, truncated or null-padded to exactly n bytes.
func PutASCII(buf []byte, s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return append(buf, b...)
}

// ASCIIField trims trailing NUL bytes from a fixed-width ASCII field.
func ASCIIField(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// ReadFrame reads a frame whose first 4 bytes are a big-endian total
// length (the length field counts itself, per spec §6's RPC header:
// "total frame length, must be >= 12"). minHeader is the protocol's
// minimum valid total length.
func ReadFrame(r *bufio.Reader, minHeader uint32) ([]byte, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(head)
	if n < minHeader {
		return nil, ErrFrameTooSmall
	}
	if n > MaxFrameSize {
		return nil, errors.New("wire: frame exceeds maximum size")
	}

	buf := make([]byte, n)
	copy(buf, head)
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}

	return buf, nil
}

// WriteFrame writes buf (whose first 4 bytes must already encode its own
// length) to w in a single call.
func WriteFrame(w io.Writer, buf []byte) error {
	_, err := w.Write(buf)
	return err
}
