// Package kvstore is the Raft-backed key/value state machine (spec
// §4.6): a binary SET/UNSET command codec, an FSM that applies
// committed commands under a single write lock, and a client-facing
// Get/Set/Unset API layered over raftengine's submit_command/
// wait_committed.
package kvstore

import (
	"encoding/binary"
	"errors"
)

// CommandType discriminates a KV command's wire form.
type CommandType uint8

const (
	CmdSet   CommandType = 1
	CmdUnset CommandType = 2
)

// ErrInvalidCommand is returned by Decode for a malformed or
// unrecognized command buffer.
var ErrInvalidCommand = errors.New("kvstore: invalid command encoding")

// Command is the decoded form of one KV write (spec §4.6's command
// format): `SET`: [type=1][key_len:2][key][value_len:4][value].
// `UNSET`: [type=2][key_len:2][key].
type Command struct {
	Type  CommandType
	Key   string
	Value []byte
}

// EncodeSet serializes a SET command.
func EncodeSet(key string, value []byte) []byte {
	buf := make([]byte, 0, 1+2+len(key)+4+len(value))
	buf = append(buf, byte(CmdSet))
	buf = appendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = appendUint32(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf
}

// EncodeUnset serializes an UNSET command.
func EncodeUnset(key string) []byte {
	buf := make([]byte, 0, 1+2+len(key))
	buf = append(buf, byte(CmdUnset))
	buf = appendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	return buf
}

// Decode parses a command buffer produced by EncodeSet/EncodeUnset.
func Decode(buf []byte) (Command, error) {
	if len(buf) < 3 {
		return Command{}, ErrInvalidCommand
	}

	typ := CommandType(buf[0])
	keyLen := int(binary.BigEndian.Uint16(buf[1:3]))
	if len(buf) < 3+keyLen {
		return Command{}, ErrInvalidCommand
	}
	key := string(buf[3 : 3+keyLen])
	rest := buf[3+keyLen:]

	switch typ {
	case CmdSet:
		if len(rest) < 4 {
			return Command{}, ErrInvalidCommand
		}
		valLen := int(binary.BigEndian.Uint32(rest[0:4]))
		if len(rest) < 4+valLen {
			return Command{}, ErrInvalidCommand
		}
		value := append([]byte(nil), rest[4:4+valLen]...)
		return Command{Type: CmdSet, Key: key, Value: value}, nil

	case CmdUnset:
		return Command{Type: CmdUnset, Key: key}, nil

	default:
		return Command{}, ErrInvalidCommand
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return append(buf, b...)
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return append(buf, b...)
}
