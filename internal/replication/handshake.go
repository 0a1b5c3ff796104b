package replication

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// magicValue and protocolVersion identify the replication wire protocol;
// there is no negotiation, a mismatch on either side aborts the connection.
const (
	magicValue      uint64 = 0x464C4153484B5632 // "FLASHKV2"
	protocolVersion uint32 = 1
)

// Handshake is the one-time frame a primary sends immediately after
// connecting: "[magic:u64][version:u32][primary_id:u64]".
type Handshake struct {
	Magic     uint64
	Version   uint32
	PrimaryID uint64
}

const handshakeSize = 8 + 4 + 8

func encodeHandshake(primaryID uint64) []byte {
	buf := make([]byte, handshakeSize)
	binary.BigEndian.PutUint64(buf[0:8], magicValue)
	binary.BigEndian.PutUint32(buf[8:12], protocolVersion)
	binary.BigEndian.PutUint64(buf[12:20], primaryID)
	return buf
}

func decodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < handshakeSize {
		return Handshake{}, &ProtocolError{Msg: "truncated handshake"}
	}
	h := Handshake{
		Magic:     binary.BigEndian.Uint64(buf[0:8]),
		Version:   binary.BigEndian.Uint32(buf[8:12]),
		PrimaryID: binary.BigEndian.Uint64(buf[12:20]),
	}
	if h.Magic != magicValue {
		return h, &ProtocolError{Msg: "bad handshake magic"}
	}
	if h.Version != protocolVersion {
		return h, &ProtocolError{Msg: "unsupported protocol version"}
	}
	return h, nil
}

// NewPrimaryID derives a stable-enough primary identity for one process
// lifetime from a random UUID, matching the wire protocol's u64 field.
func NewPrimaryID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
