package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/bits-and-blooms/bloom/v3"
)

// falsePositiveRate is the target rate for the per-table bloom filter: a
// negative test on Reader.Get is authoritative ("key definitely absent").
// The writer streams entries and does not know the final count in
// advance, so the filter is sized from defaultBloomCapacity, a fixed
// estimate, rather than the real entry count.
const falsePositiveRate = 0.01

func newBloomFilter(expectedEntries int) *bloom.BloomFilter {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	return bloom.NewWithEstimates(uint(expectedEntries), falsePositiveRate)
}

// encodeBloom serializes filter as its native binary encoding followed by a
// CRC32C, matching the teacher's bloom filter block: "[...bit array...]
// [crc32c:u32]".
func encodeBloom(filter *bloom.BloomFilter) ([]byte, error) {
	var body bytes.Buffer
	if _, err := filter.WriteTo(&body); err != nil {
		return nil, fmt.Errorf("sstable: encode bloom filter: %w", err)
	}

	crc := crc32.Checksum(body.Bytes(), castagnoliTable)
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], crc)
	body.Write(scratch[:])

	return body.Bytes(), nil
}

func decodeBloom(raw []byte) (*bloom.BloomFilter, error) {
	if len(raw) < 5 {
		return nil, ErrCorruption
	}

	storedCRC := binary.BigEndian.Uint32(raw[len(raw)-4:])
	payload := raw[:len(raw)-4]
	if crc32.Checksum(payload, castagnoliTable) != storedCRC {
		return nil, ErrCorruption
	}

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("sstable: decode bloom filter: %w", err)
	}
	return filter, nil
}
