package sstable

import (
	"bytes"

	"github.com/flashkv/flashkv/internal/record"
)

// Iterator is a pull-based, ascending cursor over one SSTable's entries
// within [start, end], loading data blocks from disk one at a time.
type Iterator struct {
	r         *Reader
	end       []byte
	blockIdx  int
	entries   []blockEntry
	entryIdx  int
	err       error
	exhausted bool
}

// NewIterator returns an iterator over entries with start <= key <= end.
func (r *Reader) NewIterator(start, end []byte) *Iterator {
	it := &Iterator{r: r, end: append([]byte(nil), end...)}

	idx := r.blockIndexFor(start)
	if idx < 0 {
		idx = 0
	}
	it.blockIdx = idx

	if !it.loadBlock() {
		it.exhausted = true
		return it
	}

	// Skip leading entries below start within the first block.
	for it.entryIdx < len(it.entries) && bytes.Compare(it.entries[it.entryIdx].key, start) < 0 {
		it.entryIdx++
	}
	it.advancePastBlock()

	return it
}

func (it *Iterator) loadBlock() bool {
	if it.blockIdx >= len(it.r.index) {
		return false
	}
	entries, err := it.r.readBlock(it.r.index[it.blockIdx])
	if err != nil {
		it.err = err
		return false
	}
	it.entries = entries
	it.entryIdx = 0
	return true
}

func (it *Iterator) advancePastBlock() {
	for !it.exhausted && it.entryIdx >= len(it.entries) {
		it.blockIdx++
		if !it.loadBlock() {
			it.exhausted = true
		}
	}
}

// Next returns the next entry, advancing the cursor.
func (it *Iterator) Next() (key []byte, typ record.Type, seq uint64, value []byte, ok bool) {
	if it.exhausted || it.err != nil {
		return nil, 0, 0, nil, false
	}
	if it.entryIdx >= len(it.entries) {
		it.advancePastBlock()
		if it.exhausted {
			return nil, 0, 0, nil, false
		}
	}

	e := it.entries[it.entryIdx]
	if bytes.Compare(e.key, it.end) > 0 {
		it.exhausted = true
		return nil, 0, 0, nil, false
	}

	it.entryIdx++
	if it.entryIdx >= len(it.entries) {
		it.advancePastBlock()
	}

	return e.key, e.typ, e.seq, e.value, true
}

// Err returns any error encountered while loading blocks.
func (it *Iterator) Err() error { return it.err }
