// Package pager caches database page frames and fetches them on miss
// through an iofile.File backend, surfacing an IO-pending result rather
// than blocking so the bytecode VM can suspend and retry.
package pager

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/joeandaverde/tinyvdbe/internal/iofile"
	"github.com/joeandaverde/tinyvdbe/internal/storage"
)

// ReadStatus is the outcome of Pager.ReadPage.
type ReadStatus int

const (
	// ReadOK means the Frame returned holds the page's current bytes.
	ReadOK ReadStatus = iota
	// ReadIO means a read was submitted (or is already in flight); the
	// caller must pump the Reactor and call ReadPage again for the same
	// page index.
	ReadIO
)

// Pager owns the page cache and drives fetch-on-miss reads through a file
// backend. It has no locking of its own: the whole engine runs on one
// thread (spec §5), so there is nothing to race.
type Pager struct {
	file     iofile.File
	pageSize uint16
	pages    int // total pages currently known to exist in the file
	cache    *cache
	log      *log.Logger
}

// Open bootstraps a Pager over backend by reading the file header through
// the backend itself, draining its Reactor until the read completes. An
// empty file (all-zero header) or a zero page size falls back to
// DefaultPageSize; nothing is written to the file.
func Open(backend iofile.File, cacheCapacity int, logger *log.Logger) (*Pager, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	headerBuf := make([]byte, storage.FileHeaderLen)
	completion := iofile.NewCompletion(headerBuf)
	if err := backend.PRead(0, completion); err != nil {
		return nil, fmt.Errorf("pager: reading file header: %w", err)
	}
	if r, ok := backend.(iofile.Reactor); ok {
		for !completion.Ready() {
			if _, err := r.RunOnce(); err != nil {
				return nil, fmt.Errorf("pager: draining header read: %w", err)
			}
		}
	}
	if completion.Err() != nil {
		return nil, fmt.Errorf("pager: reading file header: %w", completion.Err())
	}

	allZero := true
	for _, b := range headerBuf {
		if b != 0 {
			allZero = false
			break
		}
	}

	header, err := storage.ParseFileHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	if allZero || header.PageSize == 0 {
		header = storage.NewFileHeader(storage.DefaultPageSize)
	}

	p := &Pager{
		file:     backend,
		pageSize: header.PageSize,
		pages:    1,
		cache:    newCache(cacheCapacity),
		log:      logger,
	}

	return p, nil
}

// PageSize is the fixed size, in bytes, of every page this pager serves.
func (p *Pager) PageSize() uint16 {
	return p.pageSize
}

// PageCount is the number of pages known to exist in the file.
func (p *Pager) PageCount() int {
	return p.pages
}

// SetPageCount lets the caller (bootstrapping a fixture, or growing the
// file) tell the pager how many pages now exist. The core never writes
// pages itself, so this is the only way the count changes.
func (p *Pager) SetPageCount(n int) {
	p.pages = n
}

func (p *Pager) pageOffset(page int) int64 {
	return int64(page-1) * int64(p.pageSize)
}

// ReadPage fetches a page, going through the cache first. On a cold miss it
// submits a read to the file backend and returns ReadIO; the caller must
// pump the reactor and call ReadPage again with the same index — the
// pending read is idempotent, so a repeated call while loading also
// returns ReadIO without resubmitting.
func (p *Pager) ReadPage(index int) (*Frame, ReadStatus, error) {
	if index < 1 || index > p.pages {
		return nil, ReadOK, fmt.Errorf("pager: page %d out of bounds [1,%d]", index, p.pages)
	}

	if f, ok := p.cache.get(index); ok {
		switch f.state {
		case FrameReady:
			return f, ReadOK, nil
		case FrameLoading:
			return p.pollLoading(f)
		}
	}

	f := &Frame{
		Number: index,
		Data:   make([]byte, p.pageSize),
		state:  FrameLoading,
	}
	f.completion = iofile.NewCompletion(f.Data)

	p.log.WithField("page", index).Debug("pager: cache miss, submitting read")
	if err := p.file.PRead(p.pageOffset(index), f.completion); err != nil {
		return nil, ReadOK, fmt.Errorf("pager: submitting read for page %d: %w", index, err)
	}

	if !p.cache.put(f) {
		return nil, ReadOK, fmt.Errorf("pager: cache full and every frame is pinned")
	}

	return p.pollLoading(f)
}

func (p *Pager) pollLoading(f *Frame) (*Frame, ReadStatus, error) {
	if !f.completion.Ready() {
		return nil, ReadIO, nil
	}
	if err := f.completion.Err(); err != nil {
		return nil, ReadOK, fmt.Errorf("pager: reading page %d: %w", f.Number, err)
	}
	f.state = FrameReady
	f.completion = nil
	p.log.WithField("page", f.Number).Debug("pager: page ready")
	return f, ReadOK, nil
}

// Pin marks a frame as referenced by a positioned cursor: it may not be
// evicted until a matching Unpin.
func (p *Pager) Pin(index int) {
	if f, ok := p.cache.get(index); ok {
		f.pinCount++
	}
}

// Unpin releases a previous Pin.
func (p *Pager) Unpin(index int) {
	if f, ok := p.cache.get(index); ok && f.pinCount > 0 {
		f.pinCount--
	}
}
