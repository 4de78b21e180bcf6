package audit

import (
	"context"
	"sync"
)

// MemoryRepository keeps entries in process. Used in development and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepository constructs an empty in-memory audit trail.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Append adds entries in order. It never fails.
func (r *MemoryRepository) Append(_ context.Context, entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *MemoryRepository) ListByCard(_ context.Context, cardID string, page Page) (Result, error) {
	return r.list(page, func(e Entry) bool { return e.CardID == cardID }), nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, page Page) (Result, error) {
	return r.list(page, func(e Entry) bool { return e.UserID == userID }), nil
}

// All returns a copy of every entry, oldest first.
func (r *MemoryRepository) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *MemoryRepository) list(page Page, match func(Entry) bool) Result {
	page = page.Normalize()
	res := Result{Entries: []Entry{}, Page: page.Number, Size: page.Size}

	r.mu.RLock()
	defer r.mu.RUnlock()

	offset := page.Number * page.Size
	for _, e := range r.entries {
		if !match(e) {
			continue
		}
		if res.Total >= offset && len(res.Entries) < page.Size {
			res.Entries = append(res.Entries, e)
		}
		res.Total++
	}
	return res
}
