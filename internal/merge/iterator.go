// Package merge implements the k-way ordered merge over the active
// MemTable, any sealed MemTables, and all SSTables that backs range scans
// and compaction (point reads probe each layer directly instead). Sources
// are passed newest-first;
// ties in sequence number (which should not occur outside a bug) are
// broken by that ordering.
package merge

import (
	"bytes"
	"container/heap"

	"github.com/flashkv/flashkv/internal/memtable"
	"github.com/flashkv/flashkv/internal/record"
	"github.com/flashkv/flashkv/internal/sstable"
)

// Source is a single ordered, pull-based producer the merge iterator can
// consume from: the active MemTable, a sealed MemTable, or one SSTable.
type Source interface {
	// Peek returns the current (not-yet-consumed) key, or ok=false if the
	// source is exhausted.
	Peek() (key []byte, ok bool)
	// Next consumes and returns the current entry, advancing the source.
	Next() (typ record.Type, seq uint64, value []byte, ok bool)
}

type memtableSource struct {
	it   *memtable.Iterator
	cur  memtable.Entry
	have bool
}

// FromMemTable adapts a MemTable iterator into a merge Source.
func FromMemTable(it *memtable.Iterator) Source {
	s := &memtableSource{it: it}
	s.advance()
	return s
}

func (s *memtableSource) advance() {
	e, ok := s.it.Next()
	s.cur = e
	s.have = ok
}

func (s *memtableSource) Peek() ([]byte, bool) {
	if !s.have {
		return nil, false
	}
	return s.cur.Key, true
}

func (s *memtableSource) Next() (record.Type, uint64, []byte, bool) {
	if !s.have {
		return 0, 0, nil, false
	}
	v := s.cur.Value
	s.advance()
	return v.Type, v.Seq, v.Data, true
}

type sstableSource struct {
	it        *sstable.Iterator
	curKey    []byte
	curTyp    record.Type
	curSeq    uint64
	curValue  []byte
	have      bool
}

// FromSSTable adapts an SSTable iterator into a merge Source.
func FromSSTable(it *sstable.Iterator) Source {
	s := &sstableSource{it: it}
	s.advance()
	return s
}

func (s *sstableSource) advance() {
	k, typ, seq, v, ok := s.it.Next()
	s.curKey, s.curTyp, s.curSeq, s.curValue, s.have = k, typ, seq, v, ok
}

func (s *sstableSource) Peek() ([]byte, bool) {
	if !s.have {
		return nil, false
	}
	return s.curKey, true
}

func (s *sstableSource) Next() (record.Type, uint64, []byte, bool) {
	if !s.have {
		return 0, 0, nil, false
	}
	typ, seq, v := s.curTyp, s.curSeq, s.curValue
	s.advance()
	return typ, seq, v, true
}

type heapItem struct {
	key    []byte
	srcIdx int
}

type itemHeap []heapItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].srcIdx < h[j].srcIdx
}
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Iterator performs the k-way merge described in spec: for every key where
// multiple sources collide, only the entry with the highest sequence number
// (or, on a sequence tie, the one from the newest source) is emitted, and a
// tombstone winner causes
// the key to be skipped entirely rather than emitted.
type Iterator struct {
	sources []Source
	heap    *itemHeap
	limit   int
	emitted int
}

// New builds a merge iterator over sources, which must be ordered
// newest-first (active MemTable, then sealed MemTables newest-first, then
// SSTables newest-first). limit <= 0 means unbounded.
func New(sources []Source, limit int) *Iterator {
	h := &itemHeap{}
	heap.Init(h)
	for idx, s := range sources {
		if k, ok := s.Peek(); ok {
			heap.Push(h, heapItem{key: k, srcIdx: idx})
		}
	}
	return &Iterator{sources: sources, heap: h, limit: limit}
}

// Next returns the next (key, value, seq) triple in ascending, deduplicated
// order, or ok=false once the range or limit is exhausted. seq is the
// sequence number of the winning entry, preserved so callers that rebuild
// a new SSTable (compaction) don't lose the ordering information other,
// un-merged sources still rely on.
func (m *Iterator) Next() (key []byte, value []byte, seq uint64, ok bool) {
	for {
		if m.heap.Len() == 0 {
			return nil, nil, 0, false
		}
		if m.limit > 0 && m.emitted >= m.limit {
			return nil, nil, 0, false
		}

		key = append([]byte(nil), (*m.heap)[0].key...)

		var winnerTyp record.Type
		var winnerValue []byte
		var winnerSeq uint64
		var winnerSrc int
		haveWinner := false

		for m.heap.Len() > 0 && bytes.Equal((*m.heap)[0].key, key) {
			item := heap.Pop(m.heap).(heapItem)
			src := m.sources[item.srcIdx]

			typ, seq, value, _ := src.Next()
			if !haveWinner || seq > winnerSeq || (seq == winnerSeq && item.srcIdx < winnerSrc) {
				winnerTyp, winnerValue, winnerSeq, winnerSrc = typ, value, seq, item.srcIdx
				haveWinner = true
			}

			if nk, ok := src.Peek(); ok {
				heap.Push(m.heap, heapItem{key: nk, srcIdx: item.srcIdx})
			}
		}

		if winnerTyp == record.Delete {
			continue
		}

		m.emitted++
		return key, winnerValue, winnerSeq, true
	}
}
