package bloom

import "context"

// Store is the shared key-value store that owns a filter's bit array and its
// configuration record. Every method is one round trip and must be atomic on
// the store side: no other caller may observe a batch half applied.
//
// Keys are opaque. Positions passed to SetBits and GetBits may repeat; a
// repeated position in SetBits reports the bit as it was before that
// particular write, so only its first occurrence can report 0.
type Store interface {
	// SetBits sets every position to 1 and returns, per position, whether the
	// bit was already 1 before the call.
	SetBits(ctx context.Context, key string, positions []uint64) ([]bool, error)

	// GetBits returns, per position, whether the bit is 1.
	GetBits(ctx context.Context, key string, positions []uint64) ([]bool, error)

	// CountBits returns the number of bits set to 1 under key.
	CountBits(ctx context.Context, key string) (uint64, error)

	// PublishIfAbsent stores record under key only if the key does not exist.
	// It returns true when this call created the key.
	PublishIfAbsent(ctx context.Context, key string, record []byte) (bool, error)

	// ReadRecord returns the value stored under key, or found=false.
	ReadRecord(ctx context.Context, key string) (record []byte, found bool, err error)

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
}
