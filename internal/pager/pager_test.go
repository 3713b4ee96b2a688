package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/tinyvdbe/internal/iofile"
	"github.com/joeandaverde/tinyvdbe/internal/storage"
)

func writeFixture(t *testing.T, pageSize uint16, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")

	buf := make([]byte, int(pageSize)*pages)
	copy(buf, storage.NewFileHeader(pageSize).Encode())

	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

// TestPager_Open_BootstrapsEmptyFile covers opening a brand new,
// zero-byte database file: the header read comes back as a short read at
// EOF, which must be treated as all-zero bytes rather than a hard error,
// so Open falls through to its default-page-size bootstrap.
func TestPager_Open_BootstrapsEmptyFile(t *testing.T) {
	assert := require.New(t)

	path := filepath.Join(t.TempDir(), "new.db")
	backend, err := iofile.OpenSyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := Open(backend, 8, nil)
	assert.NoError(err)
	assert.EqualValues(storage.DefaultPageSize, p.PageSize())
}

// TestPager_Open_BootstrapsEmptyFile_AsyncBackend covers the same empty-file
// bootstrap through the async backend's RunOnce-driven completion path.
func TestPager_Open_BootstrapsEmptyFile_AsyncBackend(t *testing.T) {
	assert := require.New(t)

	path := filepath.Join(t.TempDir(), "new-async.db")
	backend, err := iofile.OpenAsyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := Open(backend, 8, nil)
	assert.NoError(err)
	assert.EqualValues(storage.DefaultPageSize, p.PageSize())
}

func TestPager_ReadPage_SyncBackend(t *testing.T) {
	assert := require.New(t)

	path := writeFixture(t, 512, 2)
	backend, err := iofile.OpenSyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := Open(backend, 8, nil)
	assert.NoError(err)
	assert.EqualValues(512, p.PageSize())
	p.SetPageCount(2)

	frame, status, err := p.ReadPage(1)
	assert.NoError(err)
	assert.Equal(ReadOK, status)
	assert.True(frame.Ready())
	assert.Equal(1, frame.Number)
}

func TestPager_ReadPage_AsyncBackend_RetriesUntilReady(t *testing.T) {
	assert := require.New(t)

	path := writeFixture(t, 512, 2)
	backend, err := iofile.OpenAsyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := Open(backend, 8, nil)
	assert.NoError(err)
	p.SetPageCount(2)

	// Header bootstrap already drained internally; page 2 is still cold.
	_, status, err := p.ReadPage(2)
	assert.NoError(err)
	assert.Equal(ReadIO, status)

	// Retrying before the reactor runs is idempotent: still IO, no resubmit.
	_, status, err = p.ReadPage(2)
	assert.NoError(err)
	assert.Equal(ReadIO, status)

	n, err := backend.RunOnce()
	assert.NoError(err)
	assert.Equal(1, n)

	frame, status, err := p.ReadPage(2)
	assert.NoError(err)
	assert.Equal(ReadOK, status)
	assert.True(frame.Ready())
}

func TestPager_ReadPage_OutOfBounds(t *testing.T) {
	assert := require.New(t)

	path := writeFixture(t, 512, 1)
	backend, err := iofile.OpenSyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := Open(backend, 8, nil)
	assert.NoError(err)

	_, _, err = p.ReadPage(5)
	assert.Error(err)
}

func TestPager_PinPreventsEviction(t *testing.T) {
	assert := require.New(t)

	path := writeFixture(t, 512, 3)
	backend, err := iofile.OpenSyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := Open(backend, 1, nil) // capacity 1 forces eviction pressure
	assert.NoError(err)
	p.SetPageCount(3)

	f1, _, err := p.ReadPage(1)
	assert.NoError(err)
	p.Pin(1)

	// Page 2 cannot evict page 1 while pinned; cache stays full.
	_, _, err = p.ReadPage(2)
	assert.Error(err)

	p.Unpin(1)
	f2, status, err := p.ReadPage(2)
	assert.NoError(err)
	assert.Equal(ReadOK, status)
	assert.NotEqual(f1.Number, f2.Number)
}
