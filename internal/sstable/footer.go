package sstable

import "encoding/binary"

// footerSize is fixed per the on-disk format: index_offset(8) + index_len(4)
// + magic(8) + format_version(4).
const footerSize = 24

// magic identifies a well-formed SSTable file; it spells "FLASHKV1" in
// ASCII when read as 8 big-endian bytes.
const magic uint64 = 0x464C4153484B5631

const formatVersion uint32 = 1

type footer struct {
	indexOffset uint64
	indexLen    uint32
}

func (f footer) encode() []byte {
	buf := make([]byte, footerSize)
	binary.BigEndian.PutUint64(buf[0:8], f.indexOffset)
	binary.BigEndian.PutUint32(buf[8:12], f.indexLen)
	binary.BigEndian.PutUint64(buf[12:20], magic)
	binary.BigEndian.PutUint32(buf[20:24], formatVersion)
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != footerSize {
		return footer{}, ErrCorruption
	}
	gotMagic := binary.BigEndian.Uint64(buf[12:20])
	if gotMagic != magic {
		return footer{}, ErrBadMagic
	}
	return footer{
		indexOffset: binary.BigEndian.Uint64(buf[0:8]),
		indexLen:    binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}
