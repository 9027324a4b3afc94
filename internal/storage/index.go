package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/kiroku/internal/models"
)

// SortField selects the ordering of a paginated view.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByTitle     SortField = "title"
	SortByPageCount SortField = "page_count"
)

// SortFieldByName maps a request string to a SortField, defaulting to
// creation time.
func SortFieldByName(name string) SortField {
	switch SortField(name) {
	case SortByUpdatedAt, SortByTitle, SortByPageCount:
		return SortField(name)
	default:
		return SortByCreatedAt
	}
}

// Page is one window of a sorted view.
type Page struct {
	Items      []*models.Document `json:"items"`
	TotalItems int                `json:"total_items"`
	HasMore    bool               `json:"has_more"`
}

type sortKey struct {
	field SortField
	desc  bool
}

// Index is the derived in-memory read path over the store: non-deleted
// documents in natural order, plus per-(field, direction) sorted mirrors.
// The store is the single source of truth; the index may be dropped and
// rebuilt at any time without data loss. Staleness is decided in one place:
// the store generation the cache was built from.
type Index struct {
	store *SQLiteStore

	mu        sync.RWMutex
	gen       uint64
	docs      []*models.Document
	sortCache map[sortKey][]*models.Document
}

// NewIndex creates an Index over the store.
func NewIndex(store *SQLiteStore) *Index {
	return &Index{store: store, sortCache: make(map[sortKey][]*models.Document)}
}

// ensure rebuilds the cache when the store generation has moved since the
// last build. The rebuild happens outside the write lock so concurrent
// reads of a fresh cache are never blocked behind it.
func (ix *Index) ensure(ctx context.Context) error {
	gen := ix.store.Generation()
	ix.mu.RLock()
	fresh := ix.gen == gen && ix.docs != nil
	ix.mu.RUnlock()
	if fresh {
		return nil
	}

	docs, err := ix.store.List(ctx, false)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []*models.Document{}
	}

	ix.mu.Lock()
	ix.gen = gen
	ix.docs = docs
	// The sort cache is derived from the primary cache; a rebuild
	// invalidates every sorted mirror.
	ix.sortCache = make(map[sortKey][]*models.Document)
	ix.mu.Unlock()
	return nil
}

// Total returns the number of non-deleted documents.
func (ix *Index) Total(ctx context.Context) (int, error) {
	if err := ix.ensure(ctx); err != nil {
		return 0, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs), nil
}

// sorted returns the cached sorted view for (field, desc), building it on
// first use after a rebuild.
func (ix *Index) sorted(field SortField, desc bool) []*models.Document {
	key := sortKey{field: field, desc: desc}

	ix.mu.RLock()
	cached, ok := ix.sortCache[key]
	docs := ix.docs
	ix.mu.RUnlock()
	if ok {
		return cached
	}

	out := make([]*models.Document, len(docs))
	copy(out, docs)
	less := lessFor(field)
	// Stable sort keeps natural store order as the tie break.
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})

	ix.mu.Lock()
	ix.sortCache[key] = out
	ix.mu.Unlock()
	return out
}

func lessFor(field SortField) func(a, b *models.Document) bool {
	switch field {
	case SortByUpdatedAt:
		return func(a, b *models.Document) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case SortByTitle:
		return func(a, b *models.Document) bool {
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	case SortByPageCount:
		return func(a, b *models.Document) bool { return a.PageCount < b.PageCount }
	default:
		return func(a, b *models.Document) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
}

// GetPage returns one window of the sorted view. page is zero-based.
func (ix *Index) GetPage(ctx context.Context, page, pageSize int, sortBy SortField, desc bool) (*Page, error) {
	if page < 0 {
		return nil, &models.ValidationError{Field: "page", Reason: "must be >= 0"}
	}
	if pageSize <= 0 {
		return nil, &models.ValidationError{Field: "pageSize", Reason: "must be > 0"}
	}
	if err := ix.ensure(ctx); err != nil {
		return nil, err
	}

	all := ix.sorted(sortBy, desc)
	total := len(all)

	start := page * pageSize
	if start >= total {
		return &Page{Items: []*models.Document{}, TotalItems: total, HasMore: false}, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	items := make([]*models.Document, end-start)
	copy(items, all[start:end])
	return &Page{Items: items, TotalItems: total, HasMore: end < total}, nil
}
