package kv

import "context"

// Local exposes a Store through the context-aware interface the bloom package
// consumes. Every call is a single in-process operation, so the context is
// only checked before the call starts.
type Local struct {
	store *Store
}

// NewLocal wraps store.
func NewLocal(store *Store) *Local {
	return &Local{store: store}
}

// Store returns the wrapped store.
func (l *Local) Store() *Store {
	return l.store
}

func (l *Local) SetBits(ctx context.Context, key string, positions []uint64) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.SetBits(key, positions)
}

func (l *Local) GetBits(ctx context.Context, key string, positions []uint64) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.GetBits(key, positions)
}

func (l *Local) CountBits(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.store.BitCount(key), nil
}

func (l *Local) PublishIfAbsent(ctx context.Context, key string, record []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.store.SetNX(key, record), nil
}

func (l *Local) ReadRecord(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	record, found := l.store.Get(key)
	return record, found, nil
}

func (l *Local) Delete(ctx context.Context, keys ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, key := range keys {
		if l.store.Delete(key) {
			n++
		}
	}
	return n, nil
}
