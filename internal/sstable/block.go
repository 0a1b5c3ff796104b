package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/flashkv/flashkv/internal/record"
)

// restartInterval is how many entries pass between restart points, each of
// which resets prefix compression so a block can be scanned starting from
// any restart point rather than only from its first entry.
const restartInterval = 16

type blockEntry struct {
	key   []byte
	typ   record.Type
	seq   uint64
	value []byte
}

// blockBuilder accumulates entries for one data block using restart-prefix
// compression: "[shared_prefix_len:u16][unshared_len:u16][value_len:u32]
// [type:u8][seq:u64][unshared_key][value]", followed by a trailing restart
// offset table and a CRC32C over everything before it.
type blockBuilder struct {
	buf      bytes.Buffer
	restarts []uint32
	lastKey  []byte
	first    []byte
	numInBlk int
}

func newBlockBuilder() *blockBuilder {
	return &blockBuilder{}
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func (b *blockBuilder) add(e blockEntry) {
	if b.numInBlk == 0 {
		b.first = append([]byte(nil), e.key...)
	}

	shared := 0
	if b.numInBlk%restartInterval == 0 {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
	} else {
		shared = sharedPrefixLen(b.lastKey, e.key)
	}
	unshared := e.key[shared:]

	var scratch [8]byte
	binary.BigEndian.PutUint16(scratch[:2], uint16(shared))
	b.buf.Write(scratch[:2])
	binary.BigEndian.PutUint16(scratch[:2], uint16(len(unshared)))
	b.buf.Write(scratch[:2])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.value)))
	b.buf.Write(scratch[:4])
	b.buf.WriteByte(byte(e.typ))
	binary.BigEndian.PutUint64(scratch[:8], e.seq)
	b.buf.Write(scratch[:8])
	b.buf.Write(unshared)
	b.buf.Write(e.value)

	b.lastKey = e.key
	b.numInBlk++
}

func (b *blockBuilder) empty() bool { return b.numInBlk == 0 }

// size estimates the encoded size if flushed right now, used by the writer
// to decide when to close the block out at the target size.
func (b *blockBuilder) size() int {
	return b.buf.Len() + 4*len(b.restarts) + 4 + 4
}

// finish appends the restart offset table and CRC, returning the full
// on-disk block bytes.
func (b *blockBuilder) finish() []byte {
	payload := append([]byte(nil), b.buf.Bytes()...)

	var scratch [4]byte
	for _, off := range b.restarts {
		binary.BigEndian.PutUint32(scratch[:], off)
		payload = append(payload, scratch[:]...)
	}
	binary.BigEndian.PutUint32(scratch[:], uint32(len(b.restarts)))
	payload = append(payload, scratch[:]...)

	crc := crc32.Checksum(payload, castagnoliTable)
	binary.BigEndian.PutUint32(scratch[:], crc)
	payload = append(payload, scratch[:]...)

	return payload
}

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// decodeBlock verifies a block's CRC and splits it into entry bytes and
// restart offsets.
func decodeBlock(raw []byte) (entries []byte, restarts []uint32, err error) {
	if len(raw) < 8 {
		return nil, nil, fmt.Errorf("sstable: block too small (%d bytes)", len(raw))
	}

	storedCRC := binary.BigEndian.Uint32(raw[len(raw)-4:])
	payload := raw[:len(raw)-4]
	if crc32.Checksum(payload, castagnoliTable) != storedCRC {
		return nil, nil, ErrCorruption
	}

	restartCount := binary.BigEndian.Uint32(payload[len(payload)-4:])
	payload = payload[:len(payload)-4]

	if int(restartCount)*4 > len(payload) {
		return nil, nil, ErrCorruption
	}
	restartBytes := payload[len(payload)-int(restartCount)*4:]
	entries = payload[:len(payload)-int(restartCount)*4]

	restarts = make([]uint32, restartCount)
	for i := range restarts {
		restarts[i] = binary.BigEndian.Uint32(restartBytes[i*4 : i*4+4])
	}

	return entries, restarts, nil
}

// decodeEntryAt decodes the single entry at byte offset off within entries,
// given the key of the immediately preceding decoded entry (for prefix
// expansion; pass nil at a restart point).
func decodeEntryAt(entries []byte, off int, prevKey []byte) (e blockEntry, next int, err error) {
	if off+2+2+4+1+8 > len(entries) {
		return blockEntry{}, 0, ErrCorruption
	}
	p := off
	shared := int(binary.BigEndian.Uint16(entries[p : p+2]))
	p += 2
	unsharedLen := int(binary.BigEndian.Uint16(entries[p : p+2]))
	p += 2
	valLen := int(binary.BigEndian.Uint32(entries[p : p+4]))
	p += 4
	typ := record.Type(entries[p])
	p++
	seq := binary.BigEndian.Uint64(entries[p : p+8])
	p += 8

	if p+unsharedLen+valLen > len(entries) {
		return blockEntry{}, 0, ErrCorruption
	}
	unshared := entries[p : p+unsharedLen]
	p += unsharedLen
	value := entries[p : p+valLen]
	p += valLen

	if shared > len(prevKey) {
		return blockEntry{}, 0, ErrCorruption
	}
	key := make([]byte, shared+unsharedLen)
	copy(key, prevKey[:shared])
	copy(key[shared:], unshared)

	return blockEntry{key: key, typ: typ, seq: seq, value: append([]byte(nil), value...)}, p, nil
}

// allEntries decodes every entry in a block in order, starting from the
// first restart point (offset 0).
func allEntries(entries []byte) ([]blockEntry, error) {
	var out []blockEntry
	var prevKey []byte
	off := 0
	for off < len(entries) {
		e, next, err := decodeEntryAt(entries, off, prevKey)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		prevKey = e.key
		off = next
	}
	return out, nil
}
