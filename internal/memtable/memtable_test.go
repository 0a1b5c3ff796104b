package memtable

import (
	"fmt"
	"testing"

	"github.com/flashkv/flashkv/internal/record"
)

func TestPutGetOverwrite(t *testing.T) {
	m := New()

	if err := m.Put([]byte("a"), []byte("1"), 1); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Get([]byte("a")); !ok || string(v.Data) != "1" {
		t.Fatalf("got %+v, ok=%v", v, ok)
	}

	if err := m.Put([]byte("a"), []byte("2"), 2); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Get([]byte("a")); !ok || string(v.Data) != "2" || v.Seq != 2 {
		t.Fatalf("overwrite not applied: %+v", v)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 distinct key, got %d", m.Len())
	}
}

func TestDeleteTombstone(t *testing.T) {
	m := New()
	m.Put([]byte("a"), []byte("1"), 1)
	m.Delete([]byte("a"), 2)

	v, ok := m.Get([]byte("a"))
	if !ok {
		t.Fatal("expected tombstone entry to still be visible to Get")
	}
	if !v.IsTombstone() {
		t.Fatal("expected tombstone")
	}
}

func TestSealRejectsWrites(t *testing.T) {
	m := New()
	m.Seal()

	if err := m.Put([]byte("a"), []byte("1"), 1); err != ErrSealed {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if err := m.Delete([]byte("a"), 1); err != ErrSealed {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}

func TestAllAscendingOrder(t *testing.T) {
	m := New()
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for i, k := range keys {
		m.Put([]byte(k), []byte(fmt.Sprintf("v%d", i)), uint64(i+1))
	}

	all := m.All()
	want := []string{"alpha", "bravo", "charlie", "delta"}
	if len(all) != len(want) {
		t.Fatalf("got %d entries, want %d", len(all), len(want))
	}
	for i, e := range all {
		if string(e.Key) != want[i] {
			t.Fatalf("entry %d: got %q, want %q", i, e.Key, want[i])
		}
	}
}

func TestRangeInclusiveBounds(t *testing.T) {
	m := New()
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		m.Put([]byte(k), []byte("v"), uint64(i+1))
	}

	got := m.Range([]byte("b"), []byte("d"))
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if string(e.Key) != want[i] {
			t.Fatalf("entry %d: got %q, want %q", i, e.Key, want[i])
		}
	}
}

func TestApproximateBytesGrows(t *testing.T) {
	m := New()
	if m.ApproximateBytes() != 0 {
		t.Fatalf("expected 0 bytes for empty table")
	}
	m.Put([]byte("a"), []byte("value"), 1)
	if m.ApproximateBytes() <= 0 {
		t.Fatal("expected positive byte estimate after a put")
	}
}

func TestValueIsTombstone(t *testing.T) {
	if (Value{Type: record.Put}).IsTombstone() {
		t.Fatal("put should not be a tombstone")
	}
	if !(Value{Type: record.Delete}).IsTombstone() {
		t.Fatal("delete should be a tombstone")
	}
}
