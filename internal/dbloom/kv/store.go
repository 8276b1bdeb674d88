// Package kv implements the sharded in-memory key-value store that holds
// filter bit arrays and configuration records, and its binary snapshot format.
//
// The Store is decoupled from the filesystem and the network. Persistence
// methods operate on io.Writer and io.Reader, and the dbloom server wraps the
// store with a RESP transport. Local adapts a Store to the bloom.Store
// interface for in-process use.
//
// Sharding Strategy
// =================
//
// Data is partitioned across 256 shards, each with its own RWMutex. Two
// writes to different keys usually land on different shards and proceed in
// parallel. Keys are assigned to shards with xxHash modulo 256.
//
// Atomicity
// =========
//
// Every operation on a single key holds that key's shard lock for its whole
// duration. A batched SetBits or GetBits therefore applies or reads all of its
// positions as one step: no other caller can observe half of a batch. This is
// the only atomicity the bloom package relies on.
//
// Bit Addressing
// ==============
//
// Values are plain byte strings, and bit operations follow Redis SETBIT
// semantics so that a bit array written here reads identically through
// redis-cli style tooling:
//
//	bit i  ->  byte i/8, mask 0x80 >> (i%8)
//
// Writing past the end grows the value with zero bytes. Reading past the end
// returns 0. Offsets are limited to 32 bits (512MB per value).
package kv

import (
	"bytes"
	"errors"
	"math/bits"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of independent maps. A shard ID must fit in the
// single byte the snapshot format reserves for it.
const shardCount = 256

// MaxBitOffset is the exclusive upper bound for bit positions.
const MaxBitOffset = 1 << 32

// ErrBitOffset is returned for a bit position outside [0, MaxBitOffset).
var ErrBitOffset = errors.New("kv: bit offset is not an integer or out of range")

// Shard represents a single slice of the data store.
// It has its own lock, meaning locking this shard does NOT block others.
type Shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// Store holds the array of shards.
// It acts as the router, directing keys to the correct shard.
type Store struct {
	shards [shardCount]*Shard
}

// NewStore creates and initializes the sharded store.
func NewStore() *Store {
	s := &Store{}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &Shard{
			data: make(map[string][]byte),
		}
	}

	return s
}

// shardIndex returns the shard responsible for key.
func shardIndex(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

func (s *Store) getShard(key string) *Shard {
	return s.shards[shardIndex(key)]
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = value
}

// SetNX stores value under key only if the key does not exist.
// Returns true if the value was stored.
func (s *Store) SetNX(key string, value []byte) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.data[key]; exists {
		return false
	}
	shard.data[key] = value
	return true
}

// Get returns a copy of the value stored under key.
// The copy is taken under the shard lock, so callers may hold on to it while
// bit operations keep mutating the stored value in place.
func (s *Store) Get(key string) ([]byte, bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	val, ok := shard.data[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(val), true
}

// Delete removes a key from the correct shard.
// Returns true if the key existed and was deleted.
func (s *Store) Delete(key string) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	_, ok := shard.data[key]
	if ok {
		delete(shard.data, key)
	}
	return ok
}

// Exists checks if a key exists.
func (s *Store) Exists(key string) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	_, exists := shard.data[key]
	return exists
}

// View executes a read-only callback while holding the shard's read lock.
// The callback receives the raw bytes (or nil if key doesn't exist) and must
// not retain them after returning.
func (s *Store) View(key string, fn func(data []byte) error) error {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	return fn(shard.data[key]) // nil if not exists
}

// Mutate atomically reads, modifies, and updates a value using a callback.
func (s *Store) Mutate(key string, fn func([]byte) ([]byte, bool)) {
	//
	// DESIGN
	// ------
	//
	// This method implements a Read-Modify-Write (RMW) primitive to prevent the
	// "Lost Update" problem. The callback runs while the exclusive shard lock
	// is held: it receives the current value (or nil if the key doesn't exist)
	// and returns the new value along with a boolean indicating whether the
	// store should be updated. Returning false aborts the write without
	// touching the stored data.
	//

	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	currentValue := shard.data[key]
	newValue, changed := fn(currentValue)

	if changed {
		shard.data[key] = newValue
	}
}

// SetBits sets every position under key to 1 and returns, per position,
// whether the bit was already 1. All positions are applied under one lock.
// A position repeated in the batch reports 1 from its second occurrence on.
func (s *Store) SetBits(key string, positions []uint64) ([]bool, error) {
	previous := make([]bool, len(positions))
	if len(positions) == 0 {
		return previous, nil
	}

	// Validate everything first so a bad offset leaves the value untouched.
	highest := slices.Max(positions)
	if highest >= MaxBitOffset {
		return nil, ErrBitOffset
	}

	s.Mutate(key, func(data []byte) ([]byte, bool) {
		data = grow(data, highest)
		for i, pos := range positions {
			idx, mask := pos>>3, byte(0x80>>(pos&7))
			previous[i] = data[idx]&mask != 0
			data[idx] |= mask
		}
		return data, true
	})

	return previous, nil
}

// GetBits returns, per position, whether the bit under key is 1.
// Missing keys and positions past the end of the value read as 0.
func (s *Store) GetBits(key string, positions []uint64) ([]bool, error) {
	result := make([]bool, len(positions))
	for _, pos := range positions {
		if pos >= MaxBitOffset {
			return nil, ErrBitOffset
		}
	}

	_ = s.View(key, func(data []byte) error {
		for i, pos := range positions {
			idx := pos >> 3
			if idx < uint64(len(data)) {
				result[i] = data[idx]&byte(0x80>>(pos&7)) != 0
			}
		}
		return nil
	})

	return result, nil
}

// SetBit sets or clears a single bit and returns its previous value.
func (s *Store) SetBit(key string, pos uint64, value bool) (bool, error) {
	if pos >= MaxBitOffset {
		return false, ErrBitOffset
	}

	var previous bool
	s.Mutate(key, func(data []byte) ([]byte, bool) {
		data = grow(data, pos)
		idx, mask := pos>>3, byte(0x80>>(pos&7))
		previous = data[idx]&mask != 0
		if value {
			data[idx] |= mask
		} else {
			data[idx] &^= mask
		}
		return data, true
	})

	return previous, nil
}

// GetBit returns the value of a single bit.
func (s *Store) GetBit(key string, pos uint64) (bool, error) {
	result, err := s.GetBits(key, []uint64{pos})
	if err != nil {
		return false, err
	}
	return result[0], nil
}

// BitCount returns the number of bits set to 1 in the value under key.
func (s *Store) BitCount(key string) uint64 {
	var count uint64
	_ = s.View(key, func(data []byte) error {
		for _, b := range data {
			count += uint64(bits.OnesCount8(b))
		}
		return nil
	})
	return count
}

// Len returns the number of keys in the store.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.data)
		shard.mu.RUnlock()
	}
	return n
}

// Keys returns every key in the store in ascending order. It locks one shard
// at a time, so the result is not a point-in-time view under concurrent writes.
func (s *Store) Keys() []string {
	var keys []string
	for _, shard := range s.shards {
		shard.mu.RLock()
		for k := range shard.data {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	slices.Sort(keys)
	return keys
}

// grow returns data extended with zero bytes so that bit pos is addressable.
func grow(data []byte, pos uint64) []byte {
	need := int(pos>>3) + 1
	if len(data) >= need {
		return data
	}
	return append(data, make([]byte, need-len(data))...)
}
