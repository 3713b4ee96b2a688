package iofile

import "os"

type pendingRead struct {
	position   int64
	completion *Completion
}

// AsyncFile is a single-threaded asynchronous backend: PRead enqueues the
// read and returns immediately without firing the completion. RunOnce
// drains every queued read, performing the actual positional read and
// firing each completion in submission order.
//
// This models the "submit now, fire on a later poll" side of the I/O
// backend contract (spec §4.5) without needing a real OS completion
// mechanism or a second thread — useful for deterministically exercising
// the VM's suspend/retry path in tests.
type AsyncFile struct {
	f       *os.File
	pending []pendingRead
}

// OpenAsyncFile opens path for positional reads, creating it if absent.
func OpenAsyncFile(path string) (*AsyncFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &AsyncFile{f: f}, nil
}

func (a *AsyncFile) PRead(position int64, completion *Completion) error {
	a.pending = append(a.pending, pendingRead{position: position, completion: completion})
	return nil
}

func (a *AsyncFile) Close() error {
	return a.f.Close()
}

// RunOnce performs every currently-queued read and fires its completion.
// It returns the number of completions fired.
func (a *AsyncFile) RunOnce() (int, error) {
	batch := a.pending
	a.pending = nil

	for _, p := range batch {
		n, err := a.f.ReadAt(p.completion.Buffer(), p.position)
		p.completion.Complete(n, err)
	}

	return len(batch), nil
}

var (
	_ File    = (*AsyncFile)(nil)
	_ Reactor = (*AsyncFile)(nil)
)
