package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var sstPattern = regexp.MustCompile(`^sst-(\d+)\.sst$`)

// FileName returns the on-disk file name for a table created at createSeq.
func FileName(createSeq uint64) string {
	return fmt.Sprintf("sst-%012d.sst", createSeq)
}

// DiscoverEntry is one on-disk table found by Discover, ordered by the
// sequence number embedded in its filename.
type DiscoverEntry struct {
	CreateSeq uint64
	Path      string
}

// Discover lists every sst-<createSeq>.sst file in dir, ascending by
// createSeq (oldest first); the caller installs them newest-first into the
// level-0 set.
func Discover(dir string) ([]DiscoverEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sstable: scan %s: %w", dir, err)
	}

	var out []DiscoverEntry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := sstPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		seq, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, DiscoverEntry{CreateSeq: seq, Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreateSeq < out[j].CreateSeq })
	return out, nil
}
