package tcpapi

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/flashkv/flashkv/internal/record"
)

type fakePutter struct {
	mu   sync.Mutex
	puts map[string][]byte
	fail bool
}

func newFakePutter() *fakePutter { return &fakePutter{puts: map[string][]byte{}} }

func (f *fakePutter) Put(key, value []byte) error {
	if f.fail {
		return errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakePutter) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.puts[key]
	return v, ok
}

func TestStreamedPutsAreAcked(t *testing.T) {
	store := newFakePutter()
	srv, err := New("127.0.0.1:0", store, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	recs := []*record.Record{
		{Type: record.Put, Seq: 1, Key: []byte("a"), Value: []byte("1")},
		{Type: record.Put, Seq: 2, Key: []byte("b"), Value: []byte("2")},
	}
	for _, r := range recs {
		if _, err := record.Encode(conn, r); err != nil {
			t.Fatal(err)
		}
		var ack [1]byte
		if _, err := conn.Read(ack[:]); err != nil {
			t.Fatal(err)
		}
		if ack[0] != ackSuccess {
			t.Fatalf("expected success ack, got %x", ack[0])
		}
	}

	if v, ok := store.get("a"); !ok || string(v) != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}
	if v, ok := store.get("b"); !ok || string(v) != "2" {
		t.Fatalf("expected b=2, got %q ok=%v", v, ok)
	}
}

func TestStreamedPutFailureAcksFailureByte(t *testing.T) {
	store := newFakePutter()
	store.fail = true
	srv, err := New("127.0.0.1:0", store, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rec := &record.Record{Type: record.Put, Seq: 1, Key: []byte("a"), Value: []byte("1")}
	if _, err := record.Encode(conn, rec); err != nil {
		t.Fatal(err)
	}
	var ack [1]byte
	if _, err := conn.Read(ack[:]); err != nil {
		t.Fatal(err)
	}
	if ack[0] != ackFailure {
		t.Fatalf("expected failure ack, got %x", ack[0])
	}
}

func TestNonPutOpClosesConnection(t *testing.T) {
	store := newFakePutter()
	srv, err := New("127.0.0.1:0", store, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rec := &record.Record{Type: record.Delete, Seq: 1, Key: []byte("a")}
	if _, err := record.Encode(conn, rec); err != nil {
		t.Fatal(err)
	}

	var buf [1]byte
	_, err = conn.Read(buf[:])
	if err == nil {
		t.Fatal("expected connection to be closed for a non-put op")
	}
}
