// Package engine orchestrates the write-ahead log, the active/immutable
// MemTable pair, and the level-0 SSTable set into the store's public
// capability set: put, delete, batch_put, get, read_key_range, initialize,
// close.
package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flashkv/flashkv/internal/config"
	"github.com/flashkv/flashkv/internal/memtable"
	"github.com/flashkv/flashkv/internal/merge"
	"github.com/flashkv/flashkv/internal/record"
	"github.com/flashkv/flashkv/internal/sstable"
	"github.com/flashkv/flashkv/internal/wal"
)

// Engine is a single, self-contained LSM store instance. Multiple Engines
// may coexist in one process (e.g. in tests); there is no process-global
// state.
type Engine struct {
	dir    string
	cfg    *config.Config
	logger *zap.Logger

	// mu is the sole guard for MemTable mutation and sequence allocation
	// (spec's "engine mutex"); it also covers the corresponding WAL append
	// so WAL order always matches sequence order.
	mu         sync.Mutex
	seq        uint64
	active     *memtable.MemTable
	immutable  *memtable.MemTable
	immWALPath string

	walFile *wal.WAL

	level0Mu     sync.RWMutex
	level0       []*sstable.Reader // newest-first
	nextTableSeq uint64

	replicator Replicator

	compaction CompactionStrategy

	flushSignal chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// Open initializes an Engine rooted at cfg.DataDir: it loads existing
// SSTables, replays the WAL into a fresh MemTable, and resumes accepting
// writes. replicator may be nil (standalone or backup role).
func Open(cfg *config.Config, logger *zap.Logger, replicator Replicator) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		dir:         cfg.DataDir,
		cfg:         cfg,
		logger:      logger,
		active:      memtable.New(),
		replicator:  replicator,
		flushSignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	if cfg.CompactionEnabled {
		e.compaction = &SizeTieredStrategy{TriggerCount: cfg.CompactionTriggerCount}
	}

	if err := e.initialize(); err != nil {
		return nil, err
	}

	e.wg.Add(1)
	go e.flushLoop()

	return e, nil
}

func (e *Engine) initialize() error {
	tables, err := sstable.Discover(e.dir)
	if err != nil {
		return &IOError{Op: "discover sstables", Err: err}
	}

	var maxSeq uint64
	var maxTableSeq uint64
	level0 := make([]*sstable.Reader, 0, len(tables))
	for _, t := range tables {
		r, err := sstable.Open(t.Path)
		if err != nil {
			return &CorruptionError{Table: t.Path, Err: err}
		}
		level0 = append(level0, r)
		if t.CreateSeq+1 > maxTableSeq {
			maxTableSeq = t.CreateSeq + 1
		}
		if s, err := tableMaxSeq(r); err == nil && s > maxSeq {
			maxSeq = s
		}
	}
	// level0 from Discover is oldest-first; reverse to newest-first.
	for i, j := 0, len(level0)-1; i < j; i, j = i+1, j-1 {
		level0[i], level0[j] = level0[j], level0[i]
	}
	e.level0 = level0
	e.nextTableSeq = maxTableSeq

	epochs, err := wal.ExistingEpochs(e.dir)
	if err != nil {
		return &IOError{Op: "discover wal epochs", Err: err}
	}
	for _, epoch := range epochs {
		path := filepath.Join(e.dir, fmt.Sprintf("wal-%06d.log", epoch))
		err := wal.ReplayFile(path, func(rec *record.Record) error {
			if rec.Seq > maxSeq {
				maxSeq = rec.Seq
			}
			if rec.Type == record.Delete {
				return e.active.Delete(rec.Key, rec.Seq)
			}
			return e.active.Put(rec.Key, rec.Value, rec.Seq)
		})
		if err != nil {
			return &IOError{Op: "replay wal", Err: err}
		}
	}

	w, err := wal.Open(e.dir, e.cfg.SyncPolicy, e.cfg.SyncIntervalMS)
	if err != nil {
		return &IOError{Op: "open wal", Err: err}
	}
	e.walFile = w
	e.seq = maxSeq

	return nil
}

// tableMaxSeq scans every entry in r once (used only at startup, when the
// index is cold anyway) to recover the highest sequence number it
// contains; the fixed-size footer intentionally carries no summary field,
// so this is the only way to know.
func tableMaxSeq(r *sstable.Reader) (uint64, error) {
	it := r.NewIterator(nil, maxPossibleKey())
	var max uint64
	for {
		_, _, seq, _, ok := it.Next()
		if !ok {
			break
		}
		if seq > max {
			max = seq
		}
	}
	return max, it.Err()
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// Put writes key=value, replacing any prior entry.
func (e *Engine) Put(key, value []byte) error {
	_, err := e.writeOne(record.Put, key, value)
	return err
}

// Delete records a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	_, err := e.writeOne(record.Delete, key, nil)
	return err
}

func (e *Engine) writeOne(typ record.Type, key, value []byte) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if typ == record.Put {
		if err := validateValue(value); err != nil {
			return 0, err
		}
	}

	e.mu.Lock()
	seq := e.nextSeq()
	rec := &record.Record{Type: typ, Seq: seq, Key: key, Value: value}

	if _, err := e.walFile.Append(rec); err != nil {
		e.mu.Unlock()
		return 0, &IOError{Op: "wal append", Err: err}
	}

	if typ == record.Put {
		_ = e.active.Put(key, value, seq)
	} else {
		_ = e.active.Delete(key, seq)
	}
	e.mu.Unlock()

	if e.replicator != nil {
		if err := e.replicator.Replicate(*rec); err != nil {
			e.maybeFlush()
			return seq, err
		}
	}

	e.maybeFlush()
	return seq, nil
}

// BatchPut applies entries atomically at WAL-record granularity per entry
// (not across the whole batch — see the source's documented open
// question): each entry gets its own sequence number and WAL record, in
// order, and is visible in the MemTable and replicated in that same order
// before BatchPut returns. It returns the number of entries written.
func (e *Engine) BatchPut(entries []BatchEntry) (int, error) {
	if len(entries) == 0 {
		return 0, &ValidationError{Msg: "batch must not be empty"}
	}
	for _, en := range entries {
		if err := validateKey(en.Key); err != nil {
			return 0, err
		}
		if err := validateValue(en.Value); err != nil {
			return 0, err
		}
	}

	written := 0
	e.mu.Lock()
	for _, en := range entries {
		seq := e.nextSeq()
		rec := &record.Record{Type: record.Put, Seq: seq, Key: en.Key, Value: en.Value}

		if _, err := e.walFile.Append(rec); err != nil {
			e.mu.Unlock()
			return written, &IOError{Op: "wal append", Err: err}
		}
		_ = e.active.Put(en.Key, en.Value, seq)
		written++

		if e.replicator != nil {
			if err := e.replicator.Replicate(*rec); err != nil {
				e.mu.Unlock()
				e.maybeFlush()
				return written, err
			}
		}
	}
	e.mu.Unlock()

	e.maybeFlush()
	return written, nil
}

// Get returns the value for key, probing the active MemTable, then the
// sealed MemTable (if one is being flushed), then the level-0 SSTables
// newest-first.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	e.mu.Lock()
	active, imm := e.active, e.immutable
	e.mu.Unlock()

	if v, ok := active.Get(key); ok {
		if v.IsTombstone() {
			return nil, ErrNotFound
		}
		return v.Data, nil
	}

	if imm != nil {
		if v, ok := imm.Get(key); ok {
			if v.IsTombstone() {
				return nil, ErrNotFound
			}
			return v.Data, nil
		}
	}

	e.level0Mu.RLock()
	tables := append([]*sstable.Reader(nil), e.level0...)
	e.level0Mu.RUnlock()

	for _, t := range tables {
		found, val, typ, _, err := t.Get(key)
		if err != nil {
			return nil, &CorruptionError{Table: t.Path(), Err: err}
		}
		if found {
			if typ == record.Delete {
				return nil, ErrNotFound
			}
			return val, nil
		}
	}

	return nil, ErrNotFound
}

// ReadKeyRange returns every live key in [start, end] (inclusive both
// ends), ascending, via the merge iterator. limit <= 0 means unlimited.
func (e *Engine) ReadKeyRange(start, end []byte, limit int) ([]KV, error) {
	if len(start) == 0 || len(end) == 0 {
		return nil, &ValidationError{Msg: "range bounds must be non-empty"}
	}
	if bytes.Compare(start, end) > 0 {
		return nil, nil
	}

	sources := e.buildMergeSources(start, end)
	it := merge.New(sources, limit)

	var out []KV
	for {
		k, v, _, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

func (e *Engine) buildMergeSources(start, end []byte) []merge.Source {
	e.mu.Lock()
	active, imm := e.active, e.immutable
	e.mu.Unlock()

	e.level0Mu.RLock()
	tables := append([]*sstable.Reader(nil), e.level0...)
	e.level0Mu.RUnlock()

	sources := make([]merge.Source, 0, 2+len(tables))
	sources = append(sources, merge.FromMemTable(active.NewRangeIterator(start, end)))
	if imm != nil {
		sources = append(sources, merge.FromMemTable(imm.NewRangeIterator(start, end)))
	}
	for _, t := range tables {
		sources = append(sources, merge.FromSSTable(t.NewIterator(start, end)))
	}
	return sources
}

// maybeFlush transitions ACTIVE -> FLUSHING when the active MemTable has
// grown past the configured limit: it seals the active MemTable, installs
// a fresh one, rotates the WAL to a new epoch, and wakes the background
// flush worker. Writes continue concurrently into the new active MemTable
// and new WAL epoch throughout.
func (e *Engine) maybeFlush() {
	e.mu.Lock()
	if e.immutable != nil || e.active.ApproximateBytes() < e.cfg.MemTableSizeLimit {
		e.mu.Unlock()
		return
	}

	e.active.Seal()
	e.immutable = e.active
	e.active = memtable.New()

	closedPath, _, err := e.walFile.Rotate()
	if err != nil {
		e.logger.Error("wal rotate failed", zap.Error(err))
		e.mu.Unlock()
		return
	}
	e.immWALPath = closedPath
	e.mu.Unlock()

	select {
	case e.flushSignal <- struct{}{}:
	default:
	}
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.flushSignal:
			e.doFlush()
		case <-e.stopCh:
			return
		}
	}
}

// doFlush drains the immutable MemTable into a new level-0 SSTable,
// installs it at the newest position, discards the immutable MemTable,
// and deletes the WAL epoch it superseded.
func (e *Engine) doFlush() {
	e.mu.Lock()
	imm := e.immutable
	walPath := e.immWALPath
	e.mu.Unlock()
	if imm == nil {
		return
	}

	tableSeq := atomic.AddUint64(&e.nextTableSeq, 1) - 1
	path := filepath.Join(e.dir, sstable.FileName(tableSeq))

	w, err := sstable.NewWriter(path, e.cfg.BlockSize)
	if err != nil {
		e.logger.Error("flush: open sstable writer", zap.Error(err))
		return
	}

	for _, ent := range imm.All() {
		if err := w.Write(ent.Value.Type, ent.Key, ent.Value.Data, ent.Value.Seq); err != nil {
			e.logger.Error("flush: write entry", zap.Error(err))
			return
		}
	}

	reader, err := w.Finish()
	if err != nil {
		e.logger.Error("flush: finish sstable", zap.Error(err))
		return
	}

	e.level0Mu.Lock()
	e.level0 = append([]*sstable.Reader{reader}, e.level0...)
	e.level0Mu.Unlock()

	e.mu.Lock()
	e.immutable = nil
	e.immWALPath = ""
	e.mu.Unlock()

	if walPath != "" {
		if err := wal.RemoveEpoch(walPath); err != nil {
			e.logger.Warn("flush: remove old wal epoch", zap.Error(err))
		}
	}

	if e.compaction != nil {
		e.maybeCompact()
	}
}

// Close stops background work, makes the active MemTable durable (by
// fsyncing the WAL rather than forcing a synchronous flush), and closes
// every open SSTable and the WAL.
func (e *Engine) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()

		e.mu.Lock()
		if err := e.walFile.Sync(); err != nil {
			closeErr = &IOError{Op: "final wal sync", Err: err}
		}
		e.mu.Unlock()

		e.level0Mu.RLock()
		for _, t := range e.level0 {
			_ = t.Close()
		}
		e.level0Mu.RUnlock()

		if err := e.walFile.Close(); err != nil && closeErr == nil {
			closeErr = &IOError{Op: "close wal", Err: err}
		}
	})
	return closeErr
}
