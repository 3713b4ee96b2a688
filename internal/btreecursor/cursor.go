// Package btreecursor implements the uniform iteration protocol the VM
// drives cursors through: walk table b-tree pages leftmost-first, expose
// the current record and rowid, and surface IO-pending rather than block
// when a page the descent needs isn't cached yet.
package btreecursor

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/joeandaverde/tinyvdbe/internal/pager"
	"github.com/joeandaverde/tinyvdbe/internal/storage"
)

// Result is the outcome of a cursor operation that may need to fetch a
// page: Ok means the cursor finished positioning (possibly onto
// Exhausted), IO means a page fetch is pending and the same call must be
// repeated once the pager's reactor has run.
type Result int

const (
	ResultOK Result = iota
	ResultIO
)

// Cursor is the interface the VM dispatches against. A single concrete
// type, BTreeCursor, implements it; the interface exists so the VM's
// cursor table can hold any positioned-iterator shape uniformly.
type Cursor interface {
	Rewind() (Result, error)
	Next() (Result, error)
	WaitForCompletion() error
	IsEmpty() bool
	Record() (*storage.Record, error)
	RowID() (int64, error)
	Close()
}

type position struct {
	page      int
	cellIndex int
}

// BTreeCursor walks a single table b-tree rooted at RootPage, positioned on
// one cell of one leaf page at a time.
type BTreeCursor struct {
	Name     string
	pager    *pager.Pager
	rootPage int
	log      *log.Logger

	// descent state: where the traversal currently is and the stack of
	// interior pages it descended through to get there, so Next can
	// ascend back out when a leaf is exhausted.
	currentPage int
	cellIndex   int
	path        []position

	positioned bool
	exhausted  bool
	started    bool

	record *storage.Record
}

// NewBTreeCursor constructs a cursor over the table b-tree rooted at
// rootPage. No I/O happens until Rewind is called.
func NewBTreeCursor(p *pager.Pager, rootPage int, name string, logger *log.Logger) *BTreeCursor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &BTreeCursor{
		Name:        name,
		pager:       p,
		rootPage:    rootPage,
		log:         logger,
		currentPage: rootPage,
	}
}

// Rewind positions the cursor on the leftmost cell of the leftmost leaf.
// Each call resumes the descent from wherever a prior call left off on IO;
// no partial effect is visible to the caller until the whole descent lands
// on a leaf (or the tree turns out empty).
func (c *BTreeCursor) Rewind() (Result, error) {
	if !c.started {
		c.currentPage = c.rootPage
		c.cellIndex = 0
		c.path = c.path[:0]
		c.started = true
	}
	return c.descendToLeaf()
}

// descendToLeaf walks from c.currentPage down to a leaf, following the
// leftmost child at each interior page. It is safe to call repeatedly: each
// interior page it passes is pinned, pushed onto c.path and left behind by
// moving c.currentPage to the child, so a call that returns IO stops at the
// page still loading and the next call resumes from that page.
func (c *BTreeCursor) descendToLeaf() (Result, error) {
	for {
		frame, status, err := c.pager.ReadPage(c.currentPage)
		if status == pager.ReadIO {
			return ResultIO, nil
		}
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: %w", c.Name, err)
		}

		header, err := frame.Header()
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: corrupt page %d: %w", c.Name, c.currentPage, err)
		}

		if header.Type == storage.PageTypeLeaf {
			c.pager.Pin(c.currentPage)
			if header.NumCells == 0 {
				c.positioned = false
				c.exhausted = true
				c.record = nil
				return ResultOK, nil
			}
			c.cellIndex = 0
			if err := c.loadCurrentCell(frame, header); err != nil {
				return ResultOK, err
			}
			c.positioned = true
			c.exhausted = false
			return ResultOK, nil
		}

		// Interior page: descend into the leftmost child. An interior
		// page with no cells of its own still has a right pointer, which
		// is its only child.
		child := header.RightPage
		if header.NumCells > 0 {
			entry, err := c.interiorEntry(frame, header, 0)
			if err != nil {
				return ResultOK, err
			}
			child = entry.LeftChild
		}

		c.pager.Pin(c.currentPage)
		c.path = append(c.path, position{page: c.currentPage, cellIndex: 0})
		c.currentPage = child
	}
}

// Next advances to the next row in rowid order. Like Rewind, it is
// idempotent up to the point where a page fetch is pending.
func (c *BTreeCursor) Next() (Result, error) {
	// A prior call ascended into a new subtree and returned IO before its
	// descent reached a leaf; resume that descent.
	if c.cellIndex < 0 && !c.exhausted {
		return c.descendFirstCell()
	}
	for {
		frame, status, err := c.pager.ReadPage(c.currentPage)
		if status == pager.ReadIO {
			return ResultIO, nil
		}
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: %w", c.Name, err)
		}

		header, err := frame.Header()
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: corrupt page %d: %w", c.Name, c.currentPage, err)
		}

		nextIndex := c.cellIndex + 1
		if nextIndex < int(header.NumCells) {
			c.cellIndex = nextIndex
			if err := c.loadCurrentCell(frame, header); err != nil {
				return ResultOK, err
			}
			c.positioned = true
			return ResultOK, nil
		}

		// This leaf is exhausted. Ascend to the nearest ancestor with an
		// unvisited child.
		if len(c.path) == 0 {
			c.positioned = false
			c.exhausted = true
			c.record = nil
			return ResultOK, nil
		}

		top := c.path[len(c.path)-1]
		c.path = c.path[:len(c.path)-1]
		c.pager.Unpin(c.currentPage)

		parentFrame, status, err := c.pager.ReadPage(top.page)
		if status == pager.ReadIO {
			// Restore the popped frame so retrying resumes the ascent.
			c.path = append(c.path, top)
			c.pager.Pin(c.currentPage)
			return ResultIO, nil
		}
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: %w", c.Name, err)
		}
		parentHeader, err := parentFrame.Header()
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: corrupt page %d: %w", c.Name, top.page, err)
		}

		nextChildIndex := top.cellIndex + 1
		if nextChildIndex < int(parentHeader.NumCells) {
			entry, err := c.interiorEntry(parentFrame, parentHeader, nextChildIndex)
			if err != nil {
				return ResultOK, err
			}
			// top.page is still pinned from when it was first pushed onto
			// the path (descendToLeaf/descendFirstCell); popping it above
			// didn't unpin it, so re-entering the path here must not pin it
			// again, or the pin count grows by one per sibling transition.
			c.path = append(c.path, position{page: top.page, cellIndex: nextChildIndex})
			c.currentPage = entry.LeftChild
		} else {
			// Every child has been visited; top.page is leaving the path
			// for good, so release the pin it's held since it was first
			// descended into.
			c.pager.Unpin(top.page)
			c.currentPage = parentHeader.RightPage
		}
		c.cellIndex = -1 // descent in progress; descendFirstCell sets 0 on landing

		// Descending back down may itself need several page fetches; reuse
		// the same leftmost-descent walk used by Rewind, but starting from
		// whatever child we just selected rather than the root.
		result, err := c.descendFirstCell()
		if err != nil || result == ResultIO {
			return result, err
		}
		return ResultOK, nil
	}
}

// descendFirstCell walks from c.currentPage down to the first cell of the
// leftmost reachable leaf, used when Next ascends into a fresh subtree.
func (c *BTreeCursor) descendFirstCell() (Result, error) {
	for {
		frame, status, err := c.pager.ReadPage(c.currentPage)
		if status == pager.ReadIO {
			return ResultIO, nil
		}
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: %w", c.Name, err)
		}

		header, err := frame.Header()
		if err != nil {
			return ResultOK, fmt.Errorf("btreecursor: %s: corrupt page %d: %w", c.Name, c.currentPage, err)
		}

		if header.Type == storage.PageTypeLeaf {
			c.pager.Pin(c.currentPage)
			if header.NumCells == 0 {
				c.positioned = false
				c.exhausted = true
				c.record = nil
				return ResultOK, nil
			}
			c.cellIndex = 0
			if err := c.loadCurrentCell(frame, header); err != nil {
				return ResultOK, err
			}
			c.positioned = true
			return ResultOK, nil
		}

		child := header.RightPage
		if header.NumCells > 0 {
			entry, err := c.interiorEntry(frame, header, 0)
			if err != nil {
				return ResultOK, err
			}
			child = entry.LeftChild
		}
		c.pager.Pin(c.currentPage)
		c.path = append(c.path, position{page: c.currentPage, cellIndex: 0})
		c.currentPage = child
	}
}

// WaitForCompletion finalizes in-memory state after the reactor has run.
// BTreeCursor commits its position only once a descent fully lands (see
// Rewind/Next), so there is no residual work here — it exists to keep the
// Cursor interface symmetric with the spec's two-phase Async/Await
// instruction pairs.
func (c *BTreeCursor) WaitForCompletion() error {
	return nil
}

// IsEmpty reports whether the cursor's current position holds a valid row.
func (c *BTreeCursor) IsEmpty() bool {
	return !c.positioned
}

// Record returns the current row, or an error if the cursor isn't
// positioned on one.
func (c *BTreeCursor) Record() (*storage.Record, error) {
	if !c.positioned || c.record == nil {
		return nil, fmt.Errorf("btreecursor: %s: cursor is not positioned on a row", c.Name)
	}
	return c.record, nil
}

// RowID returns the current row's key, or an error if the cursor isn't
// positioned on one.
func (c *BTreeCursor) RowID() (int64, error) {
	if !c.positioned || c.record == nil {
		return 0, fmt.Errorf("btreecursor: %s: cursor is not positioned on a row", c.Name)
	}
	return c.record.RowID, nil
}

// Close releases any pins the cursor still holds. Programs are expected to
// close cursors at halt; the pager itself has no explicit lifetime beyond
// pin counts.
func (c *BTreeCursor) Close() {
	if c.positioned || c.exhausted {
		c.pager.Unpin(c.currentPage)
	}
	for _, p := range c.path {
		c.pager.Unpin(p.page)
	}
	c.path = nil
}

func (c *BTreeCursor) loadCurrentCell(frame *pager.Frame, header storage.PageHeader) error {
	offset, err := storage.CellOffset(c.currentPage, header, frame.Data, c.cellIndex)
	if err != nil {
		return fmt.Errorf("btreecursor: %s: %w", c.Name, err)
	}
	rec, err := storage.DecodeCell(frame.Data[offset:])
	if err != nil {
		return fmt.Errorf("btreecursor: %s: %w", c.Name, err)
	}
	c.record = &rec
	return nil
}

func (c *BTreeCursor) interiorEntry(frame *pager.Frame, header storage.PageHeader, cellIndex int) (storage.InteriorEntry, error) {
	offset, err := storage.CellOffset(c.currentPage, header, frame.Data, cellIndex)
	if err != nil {
		return storage.InteriorEntry{}, fmt.Errorf("btreecursor: %s: %w", c.Name, err)
	}
	entry, err := storage.ReadInteriorEntry(frame.Data[offset:])
	if err != nil {
		return storage.InteriorEntry{}, fmt.Errorf("btreecursor: %s: %w", c.Name, err)
	}
	return entry, nil
}

var _ Cursor = (*BTreeCursor)(nil)
