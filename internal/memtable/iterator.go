package memtable

// Iterator is a pull-based, non-restartable ascending cursor over a
// MemTable's entries within [start, end], matching the "explicit next()
// interface" iterator contract used across the read path.
type Iterator struct {
	entries []Entry
	pos     int
}

// NewIterator returns an ascending iterator over all of m's entries.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{entries: m.All()}
}

// NewRangeIterator returns an ascending iterator over entries with
// start <= key <= end.
func (m *MemTable) NewRangeIterator(start, end []byte) *Iterator {
	return &Iterator{entries: m.Range(start, end)}
}

// Next returns the next entry and advances the cursor, or ok=false when
// exhausted.
func (it *Iterator) Next() (Entry, bool) {
	if it.pos >= len(it.entries) {
		return Entry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// Peek returns the next entry without advancing.
func (it *Iterator) Peek() (Entry, bool) {
	if it.pos >= len(it.entries) {
		return Entry{}, false
	}
	return it.entries[it.pos], true
}
