package btreecursor

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/tinyvdbe/internal/iofile"
	"github.com/joeandaverde/tinyvdbe/internal/pager"
	"github.com/joeandaverde/tinyvdbe/internal/storage"
)

// encodeLeafCell builds a table-leaf cell: payload-length varint, rowid
// varint, record header (header-length varint + one serial-type varint per
// column), then the column bodies. Every column here is text.
func encodeLeafCell(rowID uint64, cols []string) []byte {
	var body []byte
	serials := make([]byte, 0, len(cols))
	for _, c := range cols {
		serials = append(serials, byte(2*len(c)+13))
		body = append(body, []byte(c)...)
	}

	headerLen := 1 + len(serials) // the header-length byte itself plus one byte per serial
	header := append([]byte{byte(headerLen)}, serials...)

	payload := append(header, body...)

	cell := make([]byte, 0, len(payload)+20)
	cell = appendVarint(cell, uint64(len(payload)))
	cell = appendVarint(cell, rowID)
	cell = append(cell, payload...)
	return cell
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			tmp[n] = b | 0x80
		} else {
			tmp[n] = b
		}
		n++
		if v == 0 {
			break
		}
	}
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, tmp[i])
	}
	return buf
}

// buildLeafPage writes a single leaf page (page 1, so it carries the
// 100-byte file header prefix) containing the given rows.
func buildLeafPage(t *testing.T, pageSize int, rows map[uint64][]string) []byte {
	t.Helper()

	data := make([]byte, pageSize)
	copy(data, storage.NewFileHeader(uint16(pageSize)).Encode())

	rowIDs := make([]uint64, 0, len(rows))
	for id := range rows {
		rowIDs = append(rowIDs, id)
	}
	// simple insertion sort, keeps the test deterministic without importing sort
	for i := 1; i < len(rowIDs); i++ {
		for j := i; j > 0 && rowIDs[j-1] > rowIDs[j]; j-- {
			rowIDs[j-1], rowIDs[j] = rowIDs[j], rowIDs[j-1]
		}
	}

	cellContentEnd := pageSize
	pointers := make([]int, 0, len(rowIDs))
	for _, id := range rowIDs {
		cell := encodeLeafCell(id, rows[id])
		cellContentEnd -= len(cell)
		copy(data[cellContentEnd:], cell)
		pointers = append(pointers, cellContentEnd)
	}

	headerOffset := storage.HeaderOffset(1)
	data[headerOffset] = byte(storage.PageTypeLeaf)
	binary.BigEndian.PutUint16(data[headerOffset+1:], 0) // first freeblock
	binary.BigEndian.PutUint16(data[headerOffset+3:], uint16(len(rowIDs)))
	binary.BigEndian.PutUint16(data[headerOffset+5:], uint16(cellContentEnd))
	data[headerOffset+7] = 0

	ptrArrayStart := headerOffset + storage.LeafHeaderLen
	for i, off := range pointers {
		binary.BigEndian.PutUint16(data[ptrArrayStart+2*i:], uint16(off))
	}

	return data
}

// buildLeafPageAt writes a leaf page at pageNumber, which only carries the
// 100-byte file header prefix when it is page 1.
func buildLeafPageAt(t *testing.T, pageSize int, pageNumber int, rows map[uint64][]string) []byte {
	t.Helper()

	data := make([]byte, pageSize)
	if pageNumber == 1 {
		copy(data, storage.NewFileHeader(uint16(pageSize)).Encode())
	}

	rowIDs := make([]uint64, 0, len(rows))
	for id := range rows {
		rowIDs = append(rowIDs, id)
	}
	for i := 1; i < len(rowIDs); i++ {
		for j := i; j > 0 && rowIDs[j-1] > rowIDs[j]; j-- {
			rowIDs[j-1], rowIDs[j] = rowIDs[j], rowIDs[j-1]
		}
	}

	cellContentEnd := pageSize
	pointers := make([]int, 0, len(rowIDs))
	for _, id := range rowIDs {
		cell := encodeLeafCell(id, rows[id])
		cellContentEnd -= len(cell)
		copy(data[cellContentEnd:], cell)
		pointers = append(pointers, cellContentEnd)
	}

	headerOffset := storage.HeaderOffset(pageNumber)
	data[headerOffset] = byte(storage.PageTypeLeaf)
	binary.BigEndian.PutUint16(data[headerOffset+1:], 0)
	binary.BigEndian.PutUint16(data[headerOffset+3:], uint16(len(rowIDs)))
	binary.BigEndian.PutUint16(data[headerOffset+5:], uint16(cellContentEnd))
	data[headerOffset+7] = 0

	ptrArrayStart := headerOffset + storage.LeafHeaderLen
	for i, off := range pointers {
		binary.BigEndian.PutUint16(data[ptrArrayStart+2*i:], uint16(off))
	}

	return data
}

// buildInteriorPageAt writes an interior page whose cells are (left-child,
// key) pairs in the given order, with rightPage as the final, implicit
// rightmost child.
func buildInteriorPageAt(t *testing.T, pageSize int, pageNumber int, children []int, rightPage int) []byte {
	t.Helper()

	data := make([]byte, pageSize)
	if pageNumber == 1 {
		copy(data, storage.NewFileHeader(uint16(pageSize)).Encode())
	}

	cellContentEnd := pageSize
	pointers := make([]int, 0, len(children))
	for i, child := range children {
		cell := make([]byte, 4, 8)
		binary.BigEndian.PutUint32(cell, uint32(child))
		cell = appendVarint(cell, uint64(i+1)) // separator key, unused by descent
		cellContentEnd -= len(cell)
		copy(data[cellContentEnd:], cell)
		pointers = append(pointers, cellContentEnd)
	}

	headerOffset := storage.HeaderOffset(pageNumber)
	data[headerOffset] = byte(storage.PageTypeInterior)
	binary.BigEndian.PutUint16(data[headerOffset+1:], 0)
	binary.BigEndian.PutUint16(data[headerOffset+3:], uint16(len(children)))
	binary.BigEndian.PutUint16(data[headerOffset+5:], uint16(cellContentEnd))
	data[headerOffset+7] = 0
	binary.BigEndian.PutUint32(data[headerOffset+8:], uint32(rightPage))

	ptrArrayStart := headerOffset + storage.InteriorHeaderLen
	for i, off := range pointers {
		binary.BigEndian.PutUint16(data[ptrArrayStart+2*i:], uint16(off))
	}

	return data
}

func openFixture(t *testing.T, path string, pageSize int, pages int) (*pager.Pager, *iofile.SyncFile) {
	t.Helper()
	backend, err := iofile.OpenSyncFile(path)
	require.NoError(t, err)

	p, err := pager.Open(backend, 8, nil)
	require.NoError(t, err)
	p.SetPageCount(pages)
	return p, backend
}

func TestBTreeCursor_EmptyLeaf(t *testing.T) {
	assert := require.New(t)

	pageSize := 512
	data := buildLeafPage(t, pageSize, map[uint64][]string{})
	path := filepath.Join(t.TempDir(), "empty.db")
	assert.NoError(os.WriteFile(path, data, 0o644))

	p, backend := openFixture(t, path, pageSize, 1)
	defer backend.Close()

	c := NewBTreeCursor(p, 1, "t1", nil)
	result, err := c.Rewind()
	assert.NoError(err)
	assert.Equal(ResultOK, result)
	assert.NoError(c.WaitForCompletion())
	assert.True(c.IsEmpty())
}

func TestBTreeCursor_ScansRowsInOrder(t *testing.T) {
	assert := require.New(t)

	pageSize := 512
	rows := map[uint64][]string{
		3: {"c"},
		1: {"a"},
		2: {"bb"},
	}
	data := buildLeafPage(t, pageSize, rows)
	path := filepath.Join(t.TempDir(), "rows.db")
	assert.NoError(os.WriteFile(path, data, 0o644))

	p, backend := openFixture(t, path, pageSize, 1)
	defer backend.Close()

	c := NewBTreeCursor(p, 1, "t1", nil)
	result, err := c.Rewind()
	assert.NoError(err)
	assert.Equal(ResultOK, result)
	assert.False(c.IsEmpty())

	var seen []int64
	for !c.IsEmpty() {
		rowID, err := c.RowID()
		assert.NoError(err)
		seen = append(seen, rowID)

		rec, err := c.Record()
		assert.NoError(err)
		assert.Len(rec.Values, 1)

		result, err := c.Next()
		assert.NoError(err)
		assert.Equal(ResultOK, result)
	}

	assert.Equal([]int64{1, 2, 3}, seen)
}

func TestBTreeCursor_IOPendingDuringDescent(t *testing.T) {
	assert := require.New(t)

	pageSize := 512
	rows := map[uint64][]string{1: {"x"}, 2: {"y"}}
	data := buildLeafPage(t, pageSize, rows)
	path := filepath.Join(t.TempDir(), "io.db")
	assert.NoError(os.WriteFile(path, data, 0o644))

	backend, err := iofile.OpenAsyncFile(path)
	assert.NoError(err)
	defer backend.Close()

	p, err := pager.Open(backend, 8, nil)
	assert.NoError(err)
	p.SetPageCount(1)

	c := NewBTreeCursor(p, 1, "t1", nil)
	result, err := c.Rewind()
	assert.NoError(err)
	assert.Equal(ResultIO, result)

	// Retrying before the reactor runs stays IO without resubmitting.
	result, err = c.Rewind()
	assert.NoError(err)
	assert.Equal(ResultIO, result)

	n, err := backend.RunOnce()
	assert.NoError(err)
	assert.Equal(1, n)

	result, err = c.Rewind()
	assert.NoError(err)
	assert.Equal(ResultOK, result)
	assert.False(c.IsEmpty())

	rowID, err := c.RowID()
	assert.NoError(err)
	assert.EqualValues(1, rowID)
}

// TestBTreeCursor_MultiLevelSiblingPinBalance scans an interior root with
// three children (two addressed by cells, one by the right pointer) and
// asserts every page's pin count is back to zero once the cursor closes.
// This is the shape Next's sibling-advance and ascend-to-right-pointer
// branches only run under: a single-leaf fixture never pins an interior
// page more than once.
func TestBTreeCursor_MultiLevelSiblingPinBalance(t *testing.T) {
	assert := require.New(t)

	pageSize := 512
	root := buildInteriorPageAt(t, pageSize, 1, []int{2, 3}, 4)
	leaf2 := buildLeafPageAt(t, pageSize, 2, map[uint64][]string{1: {"a"}})
	leaf3 := buildLeafPageAt(t, pageSize, 3, map[uint64][]string{2: {"b"}, 3: {"c"}})
	leaf4 := buildLeafPageAt(t, pageSize, 4, map[uint64][]string{4: {"d"}})

	data := make([]byte, 0, pageSize*4)
	data = append(data, root...)
	data = append(data, leaf2...)
	data = append(data, leaf3...)
	data = append(data, leaf4...)

	path := filepath.Join(t.TempDir(), "multilevel.db")
	assert.NoError(os.WriteFile(path, data, 0o644))

	p, backend := openFixture(t, path, pageSize, 4)
	defer backend.Close()

	c := NewBTreeCursor(p, 1, "t1", nil)
	result, err := c.Rewind()
	assert.NoError(err)
	assert.Equal(ResultOK, result)

	var seen []int64
	for !c.IsEmpty() {
		rowID, err := c.RowID()
		assert.NoError(err)
		seen = append(seen, rowID)

		result, err := c.Next()
		assert.NoError(err)
		assert.Equal(ResultOK, result)
	}
	assert.Equal([]int64{1, 2, 3, 4}, seen)

	c.Close()

	for page := 1; page <= 4; page++ {
		frame, status, err := p.ReadPage(page)
		assert.NoError(err)
		assert.Equal(pager.ReadOK, status)
		assert.False(frame.Pinned(), "page %d should be unpinned after the scan closes", page)
	}
}
