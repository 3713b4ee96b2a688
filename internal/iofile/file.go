package iofile

// File issues positional reads against a backing database file. A read
// always lands its bytes into the Completion's bound buffer; the backend
// decides whether that happens before PRead returns or later, when a
// Reactor drains it.
//
// The VM and pager never care which: they pump Reactor.RunOnce whenever a
// Step returns IO, and re-check the Completion either way.
type File interface {
	// PRead issues a positional read of len(completion.Buffer()) bytes
	// starting at position. An error return means the read could not even
	// be submitted (e.g. a closed file); it is distinct from a read error
	// delivered later through completion.Err().
	PRead(position int64, completion *Completion) error

	// Close releases the backing file.
	Close() error
}

// Reactor drains completions that have become ready since the last call.
// Synchronous backends have nothing to drain: every PRead already fired its
// completion before returning, so RunOnce is a no-op that returns (0, nil).
type Reactor interface {
	// RunOnce services at least one round of ready completions, firing
	// them, and reports how many were completed.
	RunOnce() (int, error)
}
