package engine

import "github.com/flashkv/flashkv/internal/record"

// ApplyReplicated installs rec — received over the replication stream — into
// this engine using its original sequence number, so a backup's sequence
// counter tracks its primary's rather than allocating its own. It satisfies
// replication.Applier without this package importing replication.
func (e *Engine) ApplyReplicated(rec record.Record) error {
	e.mu.Lock()

	if _, err := e.walFile.Append(&rec); err != nil {
		e.mu.Unlock()
		return &IOError{Op: "wal append (replicated)", Err: err}
	}

	if rec.Type == record.Delete {
		_ = e.active.Delete(rec.Key, rec.Seq)
	} else {
		_ = e.active.Put(rec.Key, rec.Value, rec.Seq)
	}

	if rec.Seq > e.seq {
		e.seq = rec.Seq
	}
	e.mu.Unlock()

	e.maybeFlush()
	return nil
}
