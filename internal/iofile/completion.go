package iofile

import "io"

// Completion is a one-shot object linking a pending positional read to its
// destination buffer. It is completed exactly once, by whichever backend
// issued the read — synchronously, before PRead returns, or later from a
// Reactor's RunOnce. Once Ready, the buffer contents are stable and may be
// borrowed without synchronization: the whole engine runs on one thread.
//
// A Completion owns its buffer (shared ownership with the Frame it fills),
// not the other way around, so the pager can look a frame up by page
// number without following a pointer through the completion. See the
// design notes on avoiding a completion -> frame -> pager -> completion
// cycle.
type Completion struct {
	buf   []byte
	ready bool
	err   error
}

// NewCompletion creates a Completion bound to the given destination buffer.
func NewCompletion(buf []byte) *Completion {
	return &Completion{buf: buf}
}

// Complete fires the completion and records any error; the backend has
// already read n bytes into the bound buffer's front. It must be called
// exactly once.
//
// A short read that hit EOF is not an error here: the buffer is always
// freshly zeroed before a read is submitted, so bytes past n are already
// the zero-fill a brand new, shorter-than-expected, or entirely empty
// database file should read as. Bootstrapping a fresh file depends on
// this: Pager.Open reads a page-1-sized header off a zero-byte file and
// expects to see all zeros back, not a hard error.
func (c *Completion) Complete(n int, err error) {
	if c.ready {
		panic("iofile: completion fired more than once")
	}
	if err == io.EOF && n < len(c.buf) {
		err = nil
	}
	c.ready = true
	c.err = err
	_ = n // the backend reads directly into c.buf; n confirms how much landed
}

// Ready reports whether the completion has fired.
func (c *Completion) Ready() bool {
	return c.ready
}

// Err returns the error the completion fired with, if any. Only meaningful
// once Ready returns true.
func (c *Completion) Err() error {
	return c.err
}

// Buffer returns the destination buffer the completion fills.
func (c *Completion) Buffer() []byte {
	return c.buf
}
