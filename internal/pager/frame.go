package pager

import (
	"github.com/joeandaverde/tinyvdbe/internal/iofile"
	"github.com/joeandaverde/tinyvdbe/internal/storage"
)

// FrameState is the readiness state of a cached page frame.
type FrameState int

const (
	// FrameEmpty means the frame slot exists but has no bytes loaded yet.
	FrameEmpty FrameState = iota
	// FrameLoading means a read has been submitted and is awaiting its completion.
	FrameLoading
	// FrameReady means the frame's bytes reflect the page's on-disk contents.
	FrameReady
)

// Frame is an in-memory cached database page: its raw bytes plus the
// bookkeeping the pager and LRU cache need. The write path (dirty
// tracking) is out of scope for this core; frames are always clean.
type Frame struct {
	Number int
	Data   []byte

	state      FrameState
	completion *iofile.Completion
	pinCount   int

	// LRU linked-list pointers, owned by cache.
	prev, next *Frame
}

// Ready reports whether the frame's bytes are safe to read.
func (f *Frame) Ready() bool {
	return f.state == FrameReady
}

// Header parses the b-tree page header out of the frame's current bytes.
// Only valid once Ready.
func (f *Frame) Header() (storage.PageHeader, error) {
	return storage.ParsePageHeader(f.Number, f.Data)
}

// Pinned reports whether any cursor currently depends on this frame staying
// resident.
func (f *Frame) Pinned() bool {
	return f.pinCount > 0
}
