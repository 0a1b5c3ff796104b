package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/flashkv/flashkv/internal/record"
)

// Reader opens an immutable SSTable file, keeping only its (small) index
// and bloom filter resident; data blocks are read from disk on demand.
type Reader struct {
	mu sync.Mutex
	f  *os.File

	path  string
	index []indexEntry
	bloom *bloom.BloomFilter
}

// Open reads path's footer and index block into memory.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	size, err := f.Seek(0, 2)
	if err != nil {
		f.Close()
		return nil, err
	}
	if size < footerSize {
		f.Close()
		return nil, ErrCorruption
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, size-footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer: %w", err)
	}
	ft, err := decodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	indexBuf := make([]byte, ft.indexLen)
	if _, err := f.ReadAt(indexBuf, int64(ft.indexOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read index: %w", err)
	}

	bloomOffset, bloomLen, entries, err := decodeIndex(indexBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	bloomBuf := make([]byte, bloomLen)
	if _, err := f.ReadAt(bloomBuf, int64(bloomOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read bloom block: %w", err)
	}
	filter, err := decodeBloom(bloomBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{f: f, path: path, index: entries, bloom: filter}, nil
}

func decodeIndex(buf []byte) (bloomOffset uint64, bloomLen uint32, entries []indexEntry, err error) {
	if len(buf) < 8+4+4 {
		return 0, 0, nil, ErrCorruption
	}

	storedCRC := binary.BigEndian.Uint32(buf[len(buf)-4:])
	payload := buf[:len(buf)-4]
	if crc32.Checksum(payload, castagnoliTable) != storedCRC {
		return 0, 0, nil, ErrCorruption
	}

	p := 0
	bloomOffset = binary.BigEndian.Uint64(payload[p : p+8])
	p += 8
	bloomLen = binary.BigEndian.Uint32(payload[p : p+4])
	p += 4

	for p < len(payload) {
		if p+4 > len(payload) {
			return 0, 0, nil, ErrCorruption
		}
		keyLen := int(binary.BigEndian.Uint32(payload[p : p+4]))
		p += 4
		if p+keyLen+8+4 > len(payload) {
			return 0, 0, nil, ErrCorruption
		}
		key := append([]byte(nil), payload[p:p+keyLen]...)
		p += keyLen
		offset := binary.BigEndian.Uint64(payload[p : p+8])
		p += 8
		blockLen := binary.BigEndian.Uint32(payload[p : p+4])
		p += 4
		entries = append(entries, indexEntry{firstKey: key, blockOffset: offset, blockLen: blockLen})
	}

	return bloomOffset, bloomLen, entries, nil
}

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string { return r.path }

func (r *Reader) readBlock(e indexEntry) ([]blockEntry, error) {
	raw := make([]byte, e.blockLen)
	r.mu.Lock()
	_, err := r.f.ReadAt(raw, int64(e.blockOffset))
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sstable: read block: %w", err)
	}

	entries, _, err := decodeBlock(raw)
	if err != nil {
		return nil, err
	}
	return allEntries(entries)
}

// blockIndexFor returns the index of the last block whose first key is
// <= target, or -1 if target is before the first block.
func (r *Reader) blockIndexFor(target []byte) int {
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].firstKey, target) > 0
	})
	return i - 1
}

// Get looks up key, consulting the bloom filter before touching the index
// or any data block.
func (r *Reader) Get(key []byte) (found bool, value []byte, typ record.Type, seq uint64, err error) {
	if !r.bloom.Test(key) {
		return false, nil, 0, 0, nil
	}

	idx := r.blockIndexFor(key)
	if idx < 0 {
		return false, nil, 0, 0, nil
	}

	entries, err := r.readBlock(r.index[idx])
	if err != nil {
		return false, nil, 0, 0, err
	}

	for _, e := range entries {
		if bytes.Equal(e.key, key) {
			return true, e.value, e.typ, e.seq, nil
		}
	}
	return false, nil, 0, 0, nil
}

// Close closes the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
