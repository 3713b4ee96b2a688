package iofile

import "os"

// SyncFile is the synchronous backend: every PRead completes before it
// returns, by reading directly with os.File.ReadAt. RunOnce is therefore
// always a no-op — there is never anything left to drain.
type SyncFile struct {
	f *os.File
}

// OpenSyncFile opens path for positional reads, creating it if absent.
func OpenSyncFile(path string) (*SyncFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &SyncFile{f: f}, nil
}

// NewSyncFile wraps an already-open file.
func NewSyncFile(f *os.File) *SyncFile {
	return &SyncFile{f: f}
}

func (s *SyncFile) PRead(position int64, completion *Completion) error {
	n, err := s.f.ReadAt(completion.Buffer(), position)
	// A short read at EOF is expected when bootstrapping a brand new file
	// (e.g. reading page 1 of an empty database); callers size completion
	// buffers to what they expect and treat zero-fill as acceptable there.
	completion.Complete(n, err)
	return nil
}

func (s *SyncFile) Close() error {
	return s.f.Close()
}

func (s *SyncFile) RunOnce() (int, error) {
	return 0, nil
}

var (
	_ File    = (*SyncFile)(nil)
	_ Reactor = (*SyncFile)(nil)
)
