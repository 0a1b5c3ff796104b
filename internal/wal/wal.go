// Package wal implements the durable, append-only write-ahead log: one file
// per epoch ("wal-<epoch>.log"), framed with internal/record, replayed on
// open to reconstruct the MemTable after a restart.
//
// Epoch rotation follows the same shape as a segmented log: the active
// epoch accepts new appends while an older epoch may still be read by the
// flush worker until its entries are durably reflected in an SSTable.
package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/flashkv/flashkv/internal/record"
)

// SyncPolicy selects when an appended record becomes durable.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs before every Append returns.
	SyncEveryWrite SyncPolicy = iota
	// SyncIntervalMS fsyncs on a background timer; Append returns once the
	// record has been written to the buffered file handle.
	SyncIntervalMS
	// NoSync never fsyncs explicitly and relies on the OS page cache.
	NoSync
)

func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch s {
	case "sync":
		return SyncEveryWrite, nil
	case "interval":
		return SyncIntervalMS, nil
	case "none":
		return NoSync, nil
	default:
		return 0, fmt.Errorf("wal: unknown sync policy %q", s)
	}
}

var segmentPattern = regexp.MustCompile(`^wal-(\d+)\.log$`)

func epochPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%06d.log", epoch))
}

// ExistingEpochs returns epoch numbers found in dir, sorted ascending.
func ExistingEpochs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var epochs []int
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := segmentPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		epochs = append(epochs, n)
	}
	sort.Ints(epochs)
	return epochs, nil
}

// WAL is the current, appendable epoch file.
type WAL struct {
	mu     sync.Mutex
	dir    string
	epoch  int
	path   string
	f      *os.File
	policy SyncPolicy

	stop chan struct{}
	wg   sync.WaitGroup
}

// Open opens (creating if necessary) the highest-numbered epoch file in
// dir as the active WAL. It does not replay — callers that need replay
// should call ReplayFile on each epoch returned by ExistingEpochs before
// calling Open, in ascending order, so records are visited oldest-first.
func Open(dir string, policy SyncPolicy, syncIntervalMS int) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	epochs, err := ExistingEpochs(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: scan dir: %w", err)
	}

	epoch := 0
	if len(epochs) > 0 {
		epoch = epochs[len(epochs)-1]
	}
	path := epochPath(dir, epoch)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	w := &WAL{
		dir:    dir,
		epoch:  epoch,
		path:   path,
		f:      f,
		policy: policy,
		stop:   make(chan struct{}),
	}

	if policy == SyncIntervalMS {
		if syncIntervalMS <= 0 {
			syncIntervalMS = 100
		}
		w.wg.Add(1)
		go w.syncLoop(time.Duration(syncIntervalMS) * time.Millisecond)
	}

	return w, nil
}

func (w *WAL) syncLoop(interval time.Duration) {
	defer w.wg.Done()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			w.mu.Lock()
			_ = w.f.Sync()
			w.mu.Unlock()
		case <-w.stop:
			w.mu.Lock()
			_ = w.f.Sync()
			w.mu.Unlock()
			return
		}
	}
}

// Append writes rec to the active epoch and, per policy, makes it durable
// before returning. It returns the byte offset the record was written at.
func (w *WAL) Append(rec *record.Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("wal: seek: %w", err)
	}

	if _, err := record.Encode(w.f, rec); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}

	if w.policy == SyncEveryWrite {
		if err := w.f.Sync(); err != nil {
			return 0, fmt.Errorf("wal: fsync: %w", err)
		}
	}

	return offset, nil
}

// Sync forces a durability checkpoint regardless of policy.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Sync()
}

// Epoch returns the currently active epoch number.
func (w *WAL) Epoch() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// Path returns the currently active epoch's file path.
func (w *WAL) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Rotate closes the active epoch, opens the next one, and returns the path
// of the just-closed epoch so the caller can replay-then-delete it once its
// entries are durable in a flushed SSTable.
func (w *WAL) Rotate() (closedPath string, newEpoch int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Sync(); err != nil {
		return "", 0, fmt.Errorf("wal: fsync before rotate: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return "", 0, fmt.Errorf("wal: close epoch %d: %w", w.epoch, err)
	}

	closedPath = w.path
	w.epoch++
	w.path = epochPath(w.dir, w.epoch)

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("wal: open new epoch: %w", err)
	}
	w.f = f

	return closedPath, w.epoch, nil
}

// Close stops the background sync worker (if any) and closes the active
// epoch file.
func (w *WAL) Close() error {
	close(w.stop)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Visitor is called once per record replayed from a WAL epoch, in the
// order the records were written.
type Visitor func(rec *record.Record) error

// ReplayFile reads every well-formed record from path and calls visit for
// each, stopping cleanly (without error) on EOF, a torn trailing frame, or
// a CRC mismatch — all three are the expected shape of a log that was not
// cleanly closed before a crash.
func ReplayFile(path string, visit Visitor) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("wal: open %s for replay: %w", path, err)
	}
	defer f.Close()

	for {
		rec, err := record.Decode(f)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, record.ErrShortRead) || errors.Is(err, record.ErrCorrupt) {
				return nil
			}
			return fmt.Errorf("wal: replay %s: %w", path, err)
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
}

// RemoveEpoch deletes a closed epoch's file once its records are durably
// reflected in a flushed SSTable.
func RemoveEpoch(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
