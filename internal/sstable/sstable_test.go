package sstable

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/flashkv/flashkv/internal/record"
)

func buildTable(t *testing.T, dir string, entries []blockEntry) *Reader {
	t.Helper()
	path := filepath.Join(dir, FileName(1))
	w, err := NewWriter(path, 256) // small block size to force multiple blocks
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := w.Write(e.typ, e.key, e.value, e.seq); err != nil {
			t.Fatal(err)
		}
	}
	r, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func seqEntries(n int) []blockEntry {
	out := make([]blockEntry, n)
	for i := 0; i < n; i++ {
		out[i] = blockEntry{
			key:   []byte(fmt.Sprintf("key-%05d", i)),
			typ:   record.Put,
			seq:   uint64(i + 1),
			value: []byte(fmt.Sprintf("value-%05d", i)),
		}
	}
	return out
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := seqEntries(200)
	r := buildTable(t, dir, entries)
	defer r.Close()

	for _, e := range entries {
		found, value, typ, seq, err := r.Get(e.key)
		if err != nil {
			t.Fatalf("get %s: %v", e.key, err)
		}
		if !found {
			t.Fatalf("expected to find %s", e.key)
		}
		if string(value) != string(e.value) || typ != e.typ || seq != e.seq {
			t.Fatalf("mismatch for %s: got (%s,%v,%d)", e.key, value, typ, seq)
		}
	}
}

func TestReaderGetMissingKey(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, seqEntries(50))
	defer r.Close()

	found, _, _, _, err := r.Get([]byte("does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestWriterRejectsOutOfOrderKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, FileName(1)), DefaultBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(record.Put, []byte("b"), []byte("v"), 1); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(record.Put, []byte("a"), []byte("v"), 2); err == nil {
		t.Fatal("expected out-of-order rejection")
	}
}

func TestIteratorAscendingWithinRange(t *testing.T) {
	dir := t.TempDir()
	entries := seqEntries(100)
	r := buildTable(t, dir, entries)
	defer r.Close()

	it := r.NewIterator([]byte("key-00010"), []byte("key-00020"))
	var got []string
	for {
		k, _, _, _, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, string(k))
	}
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	if len(got) != 11 {
		t.Fatalf("expected 11 keys in range, got %d", len(got))
	}
	if got[0] != "key-00010" || got[len(got)-1] != "key-00020" {
		t.Fatalf("unexpected bounds: first=%s last=%s", got[0], got[len(got)-1])
	}
}

func TestBloomFilterShortCircuitsMiss(t *testing.T) {
	dir := t.TempDir()
	r := buildTable(t, dir, seqEntries(10))
	defer r.Close()

	if r.bloom.Test([]byte("definitely-not-present")) {
		t.Skip("bloom false positive for this key; not a failure")
	}
	found, _, _, _, err := r.Get([]byte("definitely-not-present"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestDiscoverOrdersByCreateSeq(t *testing.T) {
	dir := t.TempDir()
	for _, seq := range []uint64{3, 1, 2} {
		w, err := NewWriter(filepath.Join(dir, FileName(seq)), DefaultBlockSize)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(record.Put, []byte("k"), []byte("v"), 1)
		r, err := w.Finish()
		if err != nil {
			t.Fatal(err)
		}
		r.Close()
	}

	found, err := Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 tables, got %d", len(found))
	}
	for i, want := range []uint64{1, 2, 3} {
		if found[i].CreateSeq != want {
			t.Fatalf("entry %d: got createSeq %d, want %d", i, found[i].CreateSeq, want)
		}
	}
}
