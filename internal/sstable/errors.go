package sstable

import "errors"

var (
	// ErrCorruption is returned when a CRC check fails while reading an
	// SSTable block, index, or footer.
	ErrCorruption = errors.New("sstable: corruption detected")
	// ErrOutOfOrder is returned by Writer.Write when the caller supplies
	// a key that is not strictly greater than the previous key written —
	// the writer requires an already-sorted, deduplicated input stream.
	ErrOutOfOrder = errors.New("sstable: keys must be written in strictly ascending order")
	// ErrBadMagic is returned when a file's footer does not carry the
	// expected magic number, meaning it is not an SSTable (or a version
	// this build doesn't understand).
	ErrBadMagic = errors.New("sstable: bad magic number")
)
