// Package sstable implements the immutable, sorted on-disk table format:
// data blocks with restart-prefix compression, a sparse index, a bloom
// filter for fast negative lookups, and a fixed-size footer.
//
// File layout: [data blocks...][bloom filter block][index block][footer].
// The footer only ever points at the index block; the index block itself
// carries the bloom filter's offset and length, so the fixed 24-byte
// footer format never has to grow to describe new optional blocks.
package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/flashkv/flashkv/internal/record"
)

// defaultBloomCapacity sizes the per-table bloom filter; matches the
// teacher's fixed estimate rather than a two-pass entry count, since the
// writer streams entries and does not know the final count in advance.
const defaultBloomCapacity = 100_000

// DefaultBlockSize is the target (not maximum) size of one data block
// before the writer rolls over to a new block.
const DefaultBlockSize = 4 * 1024

type indexEntry struct {
	firstKey    []byte
	blockOffset uint64
	blockLen    uint32
}

// Writer consumes an already-sorted, already-deduplicated stream of
// entries and produces one immutable SSTable file.
type Writer struct {
	f         *os.File
	blockSize int

	curBlock *blockBuilder
	index    []indexEntry
	offset   uint64

	bloom   *bloom.BloomFilter
	lastKey []byte
	any     bool
}

// NewWriter creates path (truncating any existing file) and returns a
// Writer ready to accept entries.
func NewWriter(path string, blockSize int) (*Writer, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}

	return &Writer{
		f:         f,
		blockSize: blockSize,
		curBlock:  newBlockBuilder(),
		bloom:     newBloomFilter(defaultBloomCapacity),
	}, nil
}

// Write appends one entry. Keys must arrive in strictly ascending order;
// a key that is not greater than the previous key is a programmer error.
func (w *Writer) Write(typ record.Type, key, value []byte, seq uint64) error {
	if w.any && bytes.Compare(key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, w.lastKey)
	}

	w.curBlock.add(blockEntry{key: key, typ: typ, seq: seq, value: value})
	w.bloom.Add(key)
	w.lastKey = append([]byte(nil), key...)
	w.any = true

	if w.curBlock.size() >= w.blockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if w.curBlock.empty() {
		return nil
	}

	firstKey := w.curBlock.firstKey()
	raw := w.curBlock.finish()

	if _, err := w.f.Write(raw); err != nil {
		return fmt.Errorf("sstable: write data block: %w", err)
	}

	w.index = append(w.index, indexEntry{
		firstKey:    append([]byte(nil), firstKey...),
		blockOffset: w.offset,
		blockLen:    uint32(len(raw)),
	})
	w.offset += uint64(len(raw))
	w.curBlock = newBlockBuilder()
	return nil
}

// Finish flushes any pending block, writes the bloom filter, index, and
// footer, fsyncs, and returns an open Reader over the completed file.
func (w *Writer) Finish() (*Reader, error) {
	if err := w.flushBlock(); err != nil {
		return nil, err
	}

	bloomBytes, err := encodeBloom(w.bloom)
	if err != nil {
		return nil, err
	}
	bloomOffset := w.offset
	if _, err := w.f.Write(bloomBytes); err != nil {
		return nil, fmt.Errorf("sstable: write bloom block: %w", err)
	}
	w.offset += uint64(len(bloomBytes))

	indexOffset := w.offset
	indexBytes := w.encodeIndex(bloomOffset, uint32(len(bloomBytes)))
	if _, err := w.f.Write(indexBytes); err != nil {
		return nil, fmt.Errorf("sstable: write index block: %w", err)
	}
	w.offset += uint64(len(indexBytes))

	ft := footer{indexOffset: indexOffset, indexLen: uint32(len(indexBytes))}
	if _, err := w.f.Write(ft.encode()); err != nil {
		return nil, fmt.Errorf("sstable: write footer: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		return nil, fmt.Errorf("sstable: fsync: %w", err)
	}

	path := w.f.Name()
	if err := w.f.Close(); err != nil {
		return nil, fmt.Errorf("sstable: close: %w", err)
	}

	return Open(path)
}

// encodeIndex writes "[bloom_offset:u64][bloom_len:u32]" followed by one
// "[first_key_len:u32][first_key][block_offset:u64][block_len:u32]" entry
// per data block, then a trailing CRC32C.
func (w *Writer) encodeIndex(bloomOffset uint64, bloomLen uint32) []byte {
	var buf bytes.Buffer
	var scratch [8]byte

	binary.BigEndian.PutUint64(scratch[:8], bloomOffset)
	buf.Write(scratch[:8])
	binary.BigEndian.PutUint32(scratch[:4], bloomLen)
	buf.Write(scratch[:4])

	for _, e := range w.index {
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.firstKey)))
		buf.Write(scratch[:4])
		buf.Write(e.firstKey)
		binary.BigEndian.PutUint64(scratch[:8], e.blockOffset)
		buf.Write(scratch[:8])
		binary.BigEndian.PutUint32(scratch[:4], e.blockLen)
		buf.Write(scratch[:4])
	}

	crc := crc32.Checksum(buf.Bytes(), castagnoliTable)
	binary.BigEndian.PutUint32(scratch[:4], crc)
	buf.Write(scratch[:4])

	return buf.Bytes()
}

// firstKey returns the block's first key, recorded into the index when the
// block is closed out.
func (b *blockBuilder) firstKey() []byte {
	return b.first
}
