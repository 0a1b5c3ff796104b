package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flashkv/flashkv/internal/merge"
	"github.com/flashkv/flashkv/internal/record"
	"github.com/flashkv/flashkv/internal/sstable"
)

// CompactionJob names a set of level-0 tables to merge into one new table.
type CompactionJob struct {
	Inputs []*sstable.Reader
}

// CompactionStrategy plans compaction work given the current level-0 set.
// The policy space (leveled vs. tiered, size tiers) is intentionally
// pluggable; only SizeTieredStrategy is shipped, and only runs when
// Config.CompactionEnabled is set (default off).
type CompactionStrategy interface {
	PlanCompaction(level0 []*sstable.Reader) []CompactionJob
}

// SizeTieredStrategy merges every level-0 table into one new table once
// the level-0 count exceeds TriggerCount. It is the simplest strategy
// that keeps level-0 fan-out bounded; it does not attempt to separate
// tables by key-range overlap the way a leveled strategy would.
type SizeTieredStrategy struct {
	TriggerCount int
}

func (s *SizeTieredStrategy) PlanCompaction(level0 []*sstable.Reader) []CompactionJob {
	if s.TriggerCount <= 0 || len(level0) <= s.TriggerCount {
		return nil
	}
	inputs := make([]*sstable.Reader, len(level0))
	copy(inputs, level0)
	return []CompactionJob{{Inputs: inputs}}
}

// maybeCompact runs the configured strategy once, synchronously, on the
// flush worker goroutine. It is only ever invoked when CompactionEnabled
// is true.
func (e *Engine) maybeCompact() {
	e.level0Mu.RLock()
	snapshot := append([]*sstable.Reader(nil), e.level0...)
	e.level0Mu.RUnlock()

	jobs := e.compaction.PlanCompaction(snapshot)
	for _, job := range jobs {
		if err := e.runCompaction(job); err != nil {
			e.logger.Warn("compaction job failed", zap.Error(err))
		}
	}
}

// runCompaction merges job.Inputs (newest-first, same convention as
// level0) into a single new table using the same merge iterator the read
// path uses, so dedup and tombstone-drop semantics are identical to a
// live read — except a tombstone here is also dropped from the compacted
// output rather than shadowing anything further, since nothing older
// survives the merge.
func (e *Engine) runCompaction(job CompactionJob) error {
	if len(job.Inputs) == 0 {
		return nil
	}

	sources := make([]merge.Source, len(job.Inputs))
	for i, r := range job.Inputs {
		sources[i] = merge.FromSSTable(r.NewIterator(nil, maxPossibleKey()))
	}
	it := merge.New(sources, 0)

	tableSeq := atomic.AddUint64(&e.nextTableSeq, 1) - 1
	path := filepath.Join(e.dir, sstable.FileName(tableSeq))

	w, err := sstable.NewWriter(path, e.cfg.BlockSize)
	if err != nil {
		return fmt.Errorf("compaction: open writer: %w", err)
	}

	for {
		k, v, seq, ok := it.Next()
		if !ok {
			break
		}
		if err := w.Write(record.Put, k, v, seq); err != nil {
			return fmt.Errorf("compaction: write entry: %w", err)
		}
	}

	merged, err := w.Finish()
	if err != nil {
		return fmt.Errorf("compaction: finish: %w", err)
	}

	e.level0Mu.Lock()
	next := []*sstable.Reader{merged}
	inputSet := make(map[*sstable.Reader]bool, len(job.Inputs))
	for _, in := range job.Inputs {
		inputSet[in] = true
	}
	for _, r := range e.level0 {
		if !inputSet[r] {
			next = append(next, r)
		}
	}
	e.level0 = next
	e.level0Mu.Unlock()

	for _, in := range job.Inputs {
		path := in.Path()
		_ = in.Close()
		_ = os.Remove(path)
	}

	return nil
}
