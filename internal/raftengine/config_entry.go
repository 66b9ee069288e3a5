package raftengine

import "github.com/meshraft/meshraft/internal/wire"

// configOp discriminates an EntryConfiguration payload.
type configOp uint8

const (
	configAddPeer configOp = iota
	configRemovePeer
)

// encodeConfigChange lays out op(1) | id(2) | addr_len(2) | addr for
// one configuration-change log entry.
func encodeConfigChange(op configOp, p Peer) []byte {
	buf := []byte{byte(op)}
	buf = wire.PutUint16(buf, p.ID)
	buf = wire.PutUint16(buf, uint16(len(p.Addr)))
	buf = append(buf, p.Addr...)
	return buf
}

func decodeConfigChange(buf []byte) (configOp, Peer) {
	op := configOp(buf[0])
	id := beUint16(buf[1:3])
	n := int(beUint16(buf[3:5]))
	addr := string(buf[5 : 5+n])
	return op, Peer{ID: id, Addr: addr}
}
