package storage

import (
	"context"
	"database/sql"
	"sync"
)

// MemoryStore keeps rows in process memory. It backs --dry-run and tests and
// enforces the same identity uniqueness as the SQL schema.
type MemoryStore struct {
	mu   sync.Mutex
	rows []FlatRecord
	keys map[IdentityKey]struct{}
}

func NewMemoryStore(seed ...FlatRecord) *MemoryStore {
	m := &MemoryStore{keys: make(map[IdentityKey]struct{})}
	for _, r := range seed {
		if _, dup := m.keys[r.Key()]; dup {
			continue
		}
		m.keys[r.Key()] = struct{}{}
		m.rows = append(m.rows, r)
	}
	return m
}

func (m *MemoryStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

// Rows returns a copy of the committed rows in insertion order.
func (m *MemoryStore) Rows() []FlatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FlatRecord(nil), m.rows...)
}

func (m *MemoryStore) BeginBatch(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, &PersistenceError{Op: "begin", Err: err, Terminal: true}
	}
	return &memBatch{store: m, pending: make(map[IdentityKey]struct{})}, nil
}

type memBatch struct {
	store   *MemoryStore
	pending map[IdentityKey]struct{}
	rows    []FlatRecord
	done    bool
}

func (b *memBatch) Exists(ctx context.Context, key IdentityKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrap("exists", key, err)
	}
	if _, ok := b.pending[key]; ok {
		return true, nil
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	_, ok := b.store.keys[key]
	return ok, nil
}

func (b *memBatch) Insert(ctx context.Context, r FlatRecord) error {
	key := r.Key()
	if err := ctx.Err(); err != nil {
		return wrap("insert", key, err)
	}
	if exists, _ := b.Exists(ctx, key); exists {
		return wrap("insert", key, ErrDuplicateKey)
	}
	b.pending[key] = struct{}{}
	b.rows = append(b.rows, r)
	return nil
}

func (b *memBatch) Commit() error {
	if b.done {
		return &PersistenceError{Op: "commit", Err: sql.ErrTxDone, Terminal: true}
	}
	b.done = true
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, r := range b.rows {
		b.store.keys[r.Key()] = struct{}{}
		b.store.rows = append(b.store.rows, r)
	}
	return nil
}

func (b *memBatch) Rollback() error {
	b.done = true
	b.rows = nil
	return nil
}
