package raftengine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"
)

// crcTable is the same ECMA polynomial the teacher's disk snapshot
// codec uses for its trailer checksum.
var crcTable = crc64.MakeTable(crc64.ECMA)

// ErrSnapshotCRCMismatch is returned by ReadSnapshot when the trailing
// checksum doesn't match the file's body.
var ErrSnapshotCRCMismatch = errors.New("raftengine: snapshot file corrupted, crc mismatch")

// SnapshotMeta is the subset of a snapshot's identity that must be
// durable alongside its FSM bytes.
type SnapshotMeta struct {
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
}

func snapshotName(meta SnapshotMeta) string {
	return "snapshot-" + itoa(meta.LastIncludedTerm) + "-" + itoa(meta.LastIncludedIndex) + ".snap"
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}

// WriteSnapshot writes fsmData followed by meta to dir, framed with a
// CRC64 trailer: [fsm bytes][meta: 8+8][crc:8][trailer_len:8]. This is
// adapted from the teacher's disk snapshot codec (trailer + length
// suffix), generalized to this engine's own FSM byte stream instead of
// an etcd raftpb.Snapshot.
func WriteSnapshot(dir string, meta SnapshotMeta, fsmData []byte) (string, error) {
	name := snapshotName(meta)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	crc := crc64.New(crcTable)
	bw := bufio.NewWriter(f)
	w := io.MultiWriter(crc, bw)

	if _, err := w.Write(fsmData); err != nil {
		return "", err
	}

	trailer := make([]byte, 0, 16)
	trailer = appendUint64(trailer, meta.LastIncludedIndex)
	trailer = appendUint64(trailer, meta.LastIncludedTerm)
	if _, err := w.Write(trailer); err != nil {
		return "", err
	}

	sum := crc.Sum(nil)
	if _, err := bw.Write(sum); err != nil {
		return "", err
	}

	tlen := make([]byte, 8)
	binary.BigEndian.PutUint64(tlen, uint64(len(trailer)+len(sum)))
	if _, err := bw.Write(tlen); err != nil {
		return "", err
	}

	if err := bw.Flush(); err != nil {
		return "", err
	}
	return path, f.Sync()
}

// ReadSnapshot reads back a file written by WriteSnapshot, verifying
// its CRC64 trailer.
func ReadSnapshot(path string) (SnapshotMeta, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SnapshotMeta{}, nil, err
	}
	if len(raw) < 8 {
		return SnapshotMeta{}, nil, errors.New("raftengine: snapshot file too short")
	}

	tlen := binary.BigEndian.Uint64(raw[len(raw)-8:])
	if uint64(len(raw)) < 8+tlen {
		return SnapshotMeta{}, nil, errors.New("raftengine: snapshot file truncated")
	}

	body := raw[:len(raw)-8-int(tlen)]
	trailerAndSum := raw[len(raw)-8-int(tlen) : len(raw)-8]
	trailer := trailerAndSum[:16]
	sum := trailerAndSum[16:]

	crc := crc64.New(crcTable)
	crc.Write(body)
	crc.Write(trailer)
	if !bytes.Equal(sum, crc.Sum(nil)) {
		return SnapshotMeta{}, nil, ErrSnapshotCRCMismatch
	}

	meta := SnapshotMeta{
		LastIncludedIndex: binary.BigEndian.Uint64(trailer[0:8]),
		LastIncludedTerm:  binary.BigEndian.Uint64(trailer[8:16]),
	}

	fsmData := append([]byte(nil), body...)
	return meta, fsmData, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return append(buf, b...)
}
