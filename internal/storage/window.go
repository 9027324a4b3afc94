package storage

import (
	"container/list"
	"context"

	"github.com/hyperjump/kiroku/internal/models"
)

// maxResidentPages bounds the windowed loader to the previous, current and
// next page of a scroll position.
const maxResidentPages = 3

// WindowLoader serves forward and backward infinite scroll over very large
// libraries while keeping only a bounded neighborhood of pages resident.
// The least recently needed page is evicted when either the page bound or
// the resident item ceiling would be exceeded.
type WindowLoader struct {
	index    *Index
	pageSize int
	maxItems int
	sortBy   SortField
	desc     bool

	resident map[int]*list.Element
	lru      *list.List
}

type residentPage struct {
	number int
	items  []*models.Document
}

// NewWindowLoader creates a loader with a fixed page size and resident item
// ceiling over one sorted view.
func NewWindowLoader(index *Index, pageSize, maxItems int, sortBy SortField, desc bool) *WindowLoader {
	return &WindowLoader{
		index:    index,
		pageSize: pageSize,
		maxItems: maxItems,
		sortBy:   sortBy,
		desc:     desc,
		resident: make(map[int]*list.Element),
		lru:      list.New(),
	}
}

// Load returns the items of page (zero-based), fetching it if not resident
// and evicting least recently needed pages past the bounds.
func (w *WindowLoader) Load(ctx context.Context, page int) ([]*models.Document, error) {
	if elem, ok := w.resident[page]; ok {
		w.lru.MoveToFront(elem)
		return elem.Value.(*residentPage).items, nil
	}

	p, err := w.index.GetPage(ctx, page, w.pageSize, w.sortBy, w.desc)
	if err != nil {
		return nil, err
	}

	elem := w.lru.PushFront(&residentPage{number: page, items: p.Items})
	w.resident[page] = elem
	w.evict()
	return p.Items, nil
}

// ResidentPages returns how many pages are currently held.
func (w *WindowLoader) ResidentPages() int { return w.lru.Len() }

// ResidentItems returns how many items are currently held.
func (w *WindowLoader) ResidentItems() int {
	n := 0
	for e := w.lru.Front(); e != nil; e = e.Next() {
		n += len(e.Value.(*residentPage).items)
	}
	return n
}

// Reset drops all resident pages, e.g. after a mutation or a sort change.
func (w *WindowLoader) Reset() {
	w.resident = make(map[int]*list.Element)
	w.lru.Init()
}

func (w *WindowLoader) evict() {
	for w.lru.Len() > maxResidentPages || (w.maxItems > 0 && w.ResidentItems() > w.maxItems && w.lru.Len() > 1) {
		oldest := w.lru.Back()
		if oldest == nil {
			return
		}
		w.lru.Remove(oldest)
		delete(w.resident, oldest.Value.(*residentPage).number)
	}
}
