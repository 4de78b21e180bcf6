package card

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cardvault/bankcards/internal/audit"
)

// MemoryStore keeps cards in process. Each card has its own lock so
// transactions on disjoint cards do not wait on each other.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]Card
	audit audit.Sink

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
	now         func() time.Time
}

// NewMemoryStore builds an empty store. Audit entries appended inside a
// transaction are forwarded to sink on commit.
func NewMemoryStore(sink audit.Sink, lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &MemoryStore{
		cards:       make(map[string]Card),
		audit:       sink,
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) (Result, error) {
	page := filter.Page.Normalize()

	s.mu.RLock()
	matched := make([]Card, 0)
	for _, c := range s.cards {
		if filter.matches(c) {
			matched = append(matched, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	res := Result{Cards: []Card{}, Total: len(matched), Page: page}
	start := page.Offset()
	if start >= len(matched) {
		return res, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	res.Cards = append(res.Cards, matched[start:end]...)
	return res, nil
}

// InTx runs fn with a fresh transaction. Staged writes and audit entries are
// applied together only if fn returns nil. Locks are always released.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		store:    s,
		held:     make(map[string]chan struct{}),
		staged:   make(map[string]Card),
		inserted: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

func (s *MemoryStore) lockChan(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

type memoryTx struct {
	store    *MemoryStore
	held     map[string]chan struct{}
	staged   map[string]Card
	order    []string
	inserted map[string]bool
	deleted  map[string]bool
	entries  []audit.Entry
}

// acquire takes the named locks in ascending order, skipping ones already held.
func (t *memoryTx) acquire(ctx context.Context, keys []string) error {
	sort.Strings(keys)
	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()

	for i, key := range keys {
		if i > 0 && keys[i-1] == key {
			continue
		}
		if _, ok := t.held[key]; ok {
			continue
		}
		ch := t.store.lockChan(key)
		select {
		case ch <- struct{}{}:
			t.held[key] = ch
		case <-timer.C:
			return fmt.Errorf("%w: lock %s", ErrContention, key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *memoryTx) release() {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

func (t *memoryTx) current(id string) (Card, bool) {
	if t.deleted[id] {
		return Card{}, false
	}
	if c, ok := t.staged[id]; ok {
		return c, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	c, ok := t.store.cards[id]
	return c, ok
}

func (t *memoryTx) Lock(ctx context.Context, ids ...string) (map[string]Card, error) {
	keys := make([]string, len(ids))
	copy(keys, ids)
	if err := t.acquire(ctx, keys); err != nil {
		return nil, err
	}

	out := make(map[string]Card, len(ids))
	for _, id := range ids {
		c, ok := t.current(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		out[id] = c
	}
	return out, nil
}

func (t *memoryTx) LockUser(ctx context.Context, userID string) error {
	return t.acquire(ctx, []string{"user:" + userID})
}

func (t *memoryTx) LockExpired(ctx context.Context, before YearMonth) ([]Card, error) {
	t.store.mu.RLock()
	var ids []string
	for id, c := range t.store.cards {
		if c.Status == StatusActive && c.Expiry.Before(before) {
			ids = append(ids, id)
		}
	}
	t.store.mu.RUnlock()

	if err := t.acquire(ctx, ids); err != nil {
		return nil, err
	}

	sort.Strings(ids)
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		c, ok := t.current(id)
		// Re-check after waiting: another transaction may have changed it.
		if ok && c.Status == StatusActive && c.Expiry.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memoryTx) CountByUser(_ context.Context, userID string) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	n := 0
	for id, c := range t.store.cards {
		if c.UserID == userID && !t.deleted[id] {
			n++
		}
	}
	for id := range t.inserted {
		if t.staged[id].UserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) FingerprintExists(_ context.Context, fingerprint string) (bool, error) {
	for id := range t.inserted {
		if t.staged[id].PANFingerprint == fingerprint {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for id, c := range t.store.cards {
		if c.PANFingerprint == fingerprint && !t.deleted[id] {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) Insert(_ context.Context, c Card) error {
	if _, exists := t.current(c.ID); exists {
		return fmt.Errorf("%w: id %s", ErrDuplicate, c.ID)
	}
	t.staged[c.ID] = c
	t.inserted[c.ID] = true
	t.order = append(t.order, c.ID)
	return nil
}

func (t *memoryTx) Save(_ context.Context, cards ...Card) error {
	for _, c := range cards {
		if _, ok := t.held[c.ID]; !ok && !t.inserted[c.ID] {
			return fmt.Errorf("save card %s: not locked in this transaction", c.ID)
		}
		if _, ok := t.current(c.ID); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
		}
		if _, seen := t.staged[c.ID]; !seen {
			t.order = append(t.order, c.ID)
		}
		t.staged[c.ID] = c
	}
	return nil
}

func (t *memoryTx) Delete(_ context.Context, id string) error {
	if _, ok := t.held[id]; !ok {
		return fmt.Errorf("delete card %s: not locked in this transaction", id)
	}
	if _, ok := t.current(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.deleted[id] = true
	return nil
}

func (t *memoryTx) Append(_ context.Context, entries ...audit.Entry) error {
	t.entries = append(t.entries, entries...)
	return nil
}

func (t *memoryTx) commit(ctx context.Context) error {
	s := t.store
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.inserted {
		fp := t.staged[id].PANFingerprint
		for otherID, c := range s.cards {
			if fp != "" && c.PANFingerprint == fp && !t.deleted[otherID] {
				return fmt.Errorf("%w: fingerprint already registered", ErrDuplicate)
			}
		}
	}
	for _, id := range t.order {
		if t.inserted[id] || t.deleted[id] {
			continue
		}
		if stored, ok := s.cards[id]; !ok || stored.Version != t.staged[id].Version {
			return fmt.Errorf("%w: card %s changed concurrently", ErrContention, id)
		}
	}

	if len(t.entries) > 0 && s.audit != nil {
		if err := s.audit.Append(ctx, t.entries...); err != nil {
			return fmt.Errorf("append audit entries: %w", err)
		}
	}

	for _, id := range t.order {
		if t.deleted[id] {
			continue
		}
		c := t.staged[id]
		if t.inserted[id] {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
		} else {
			c.Version++
		}
		c.UpdatedAt = now
		s.cards[id] = c
	}
	for id := range t.deleted {
		delete(s.cards, id)
	}
	return nil
}
