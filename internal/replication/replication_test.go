package replication

import (
	"sync"
	"testing"
	"time"

	"github.com/flashkv/flashkv/internal/record"
)

type fakeApplier struct {
	mu      sync.Mutex
	applied []record.Record
}

func (f *fakeApplier) ApplyReplicated(rec record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, rec)
	return nil
}

func (f *fakeApplier) snapshot() []record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Record(nil), f.applied...)
}

func TestPrimaryClientReplicatesAndWaitsForAck(t *testing.T) {
	applier := &fakeApplier{}
	server, err := NewBackupServer("127.0.0.1:0", applier, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client := NewPrimaryClient(server.listener.Addr().String(), NewPrimaryID(),
		2*time.Second, 50*time.Millisecond, time.Second, 100, nil)
	defer client.Close()

	waitConnected(t, client)

	rec := record.Record{Type: record.Put, Seq: 1, Key: []byte("a"), Value: []byte("1")}
	if err := client.Replicate(rec); err != nil {
		t.Fatalf("replicate failed: %v", err)
	}

	applied := applier.snapshot()
	if len(applied) != 1 || applied[0].Seq != 1 || string(applied[0].Key) != "a" {
		t.Fatalf("unexpected applied ops: %+v", applied)
	}

	st := client.Status()
	if !st.Connected || st.LastAckedSeq != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestBackupServerIsIdempotentOnDuplicateSeq(t *testing.T) {
	applier := &fakeApplier{}
	server, err := NewBackupServer("127.0.0.1:0", applier, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client := NewPrimaryClient(server.listener.Addr().String(), NewPrimaryID(),
		2*time.Second, 50*time.Millisecond, time.Second, 100, nil)
	defer client.Close()

	waitConnected(t, client)

	rec := record.Record{Type: record.Put, Seq: 1, Key: []byte("a"), Value: []byte("1")}
	if err := client.Replicate(rec); err != nil {
		t.Fatal(err)
	}

	// A duplicate resend of the same seq (as would happen after a primary
	// reconnect) must be ack'd without a second apply.
	if err := client.send(rec); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if len(applier.snapshot()) != 1 {
		t.Fatalf("expected exactly one apply, got %d", len(applier.snapshot()))
	}
}

func TestPrimaryClientTimesOutWithoutBackup(t *testing.T) {
	client := NewPrimaryClient("127.0.0.1:1", NewPrimaryID(), 100*time.Millisecond,
		10*time.Millisecond, 50*time.Millisecond, 100, nil)
	defer client.Close()

	rec := record.Record{Type: record.Put, Seq: 1, Key: []byte("a"), Value: []byte("1")}
	if err := client.Replicate(rec); err != ErrReplicationTimeout {
		t.Fatalf("expected ErrReplicationTimeout, got %v", err)
	}
}

func waitConnected(t *testing.T, c *PrimaryClient) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status().Connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never connected to backup")
}
