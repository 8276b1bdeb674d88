// Package bloom implements a Bloom filter whose state lives in a shared store.
//
// A Bloom filter answers "definitely not in the set" or "probably in the set"
// using a bit array of m bits and k hash positions per item. Here the bit
// array and the filter parameters are not held in process memory: they live
// in a Store (a Redis-style server, or the in-process kv store) so that any
// number of clients on any number of machines can add to and query the same
// logical filter.
//
// Lifecycle
// =========
//
// A filter is identified by its name. It starts uninitialized. TryInit derives
// (m, k) from the expected insertions and false positive rate and publishes
// the Config record with the store's create-if-absent primitive. Exactly one
// caller wins; everyone else gets false, which is a normal outcome and not an
// error. The record is never rewritten, so every client derives identical
// positions for the same item.
//
//	Uninitialized --TryInit (winner)--> Initialized
//
// There is no local lock anywhere in this package. The store's atomic
// operations are the only serialization point, which is what makes the
// protocol hold across processes.
//
// Round Trips
// ===========
//
// Each operation reads the Config record and then issues a single batched bit
// request, regardless of k or of how many items are in the batch:
//
//	Add / AddAll         -> SetBits  (returns the previous value of each bit)
//	Contains / ContainsAll -> GetBits
//	Count                -> CountBits
//
// Neither bits nor the Config are cached between calls. A stale local copy of
// the bits would turn correct answers into false negatives as soon as another
// client added something, and a cached Config would outlive a deleted and
// re-initialized filter.
//
// Batches
// =======
//
// The positions of every item in a batch are merged into one sorted, de-duplicated
// request. The store tells us which bits flipped from 0 to 1; each flipped bit
// is credited to the first item in batch order that maps to it. An item is
// "newly added" when it was credited at least one bit. This gives the same
// answers as adding the items one by one, so AddAll(["a", "b", "a"]) is 2.
package bloom

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Filter is a handle to a distributed Bloom filter. It holds no filter state
// and is safe for concurrent use; it is cheap to create one per call site.
type Filter struct {
	store     Store
	name      string
	configKey string
	logger    *slog.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithConfigKey overrides how the config record key is derived from the
// filter name. The default is "{name}:config".
func WithConfigKey(fn func(name string) string) Option {
	return func(f *Filter) {
		f.configKey = fn(f.name)
	}
}

// ConfigKey returns the default key of the config record for a filter name.
func ConfigKey(name string) string {
	return "{" + name + "}:config"
}

// New returns a handle to the filter called name in store. The bit array is
// kept under name itself.
func New(store Store, name string, opts ...Option) *Filter {
	f := &Filter{
		store:     store,
		name:      name,
		configKey: ConfigKey(name),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the filter name, which is also the key of its bit array.
func (f *Filter) Name() string {
	return f.name
}

// TryInit initializes the filter for expectedInsertions items at the given
// false positive probability. It returns true if this call initialized the
// filter and false if the filter had already been initialized, in which case
// the stored parameters are left untouched.
func (f *Filter) TryInit(ctx context.Context, expectedInsertions uint64, falseProbability float64) (bool, error) {
	// Validate before touching the store so that bad input never costs a
	// round trip or leaves anything behind.
	cfg, err := NewConfig(expectedInsertions, falseProbability)
	if err != nil {
		return false, err
	}

	_, found, err := f.store.ReadRecord(ctx, f.configKey)
	if err != nil {
		return false, storeError("read config", err)
	}
	if found {
		return false, nil
	}

	record, err := cfg.MarshalBinary()
	if err != nil {
		return false, err
	}

	// Another client may publish between our read and this write. The store
	// resolves the race; the read above only saves the write in the common
	// already-initialized case.
	published, err := f.store.PublishIfAbsent(ctx, f.configKey, record)
	if err != nil {
		return false, storeError("publish config", err)
	}

	f.logger.Debug("bloom filter init",
		"name", f.name,
		"initialized", published,
		"size", cfg.Size,
		"hash_iterations", cfg.HashIterations)

	return published, nil
}

// Config reads the filter's parameters. It fails with ErrNotInitialized if
// the filter has not been initialized.
func (f *Filter) Config(ctx context.Context) (Config, error) {
	record, found, err := f.store.ReadRecord(ctx, f.configKey)
	if err != nil {
		return Config{}, storeError("read config", err)
	}
	if !found {
		return Config{}, fmt.Errorf("%w: %s", ErrNotInitialized, f.name)
	}

	var cfg Config
	if err := cfg.UnmarshalBinary(record); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ExpectedInsertions returns the capacity the filter was initialized with.
func (f *Filter) ExpectedInsertions(ctx context.Context) (uint64, error) {
	cfg, err := f.Config(ctx)
	return cfg.ExpectedInsertions, err
}

// FalseProbability returns the false positive rate the filter was
// initialized with.
func (f *Filter) FalseProbability(ctx context.Context) (float64, error) {
	cfg, err := f.Config(ctx)
	return cfg.FalseProbability, err
}

// Size returns the number of bits in the filter.
func (f *Filter) Size(ctx context.Context) (uint64, error) {
	cfg, err := f.Config(ctx)
	return cfg.Size, err
}

// HashIterations returns the number of bit positions derived per item.
func (f *Filter) HashIterations(ctx context.Context) (uint32, error) {
	cfg, err := f.Config(ctx)
	return cfg.HashIterations, err
}

// Add inserts item. It returns true if at least one of the item's bits was
// previously unset, and false if all of them were already set (the item, or
// a combination of other items, was already present).
func (f *Filter) Add(ctx context.Context, item []byte) (bool, error) {
	added, err := f.AddEach(ctx, [][]byte{item})
	if err != nil {
		return false, err
	}
	return added[0], nil
}

// AddAll inserts items in a single store request and returns how many of
// them were newly added. A store may bound the number of distinct positions
// in one request (the network client allows client.MaxBatchPositions); a
// larger batch fails with ErrInvalidArgument and sets nothing, so split it.
func (f *Filter) AddAll(ctx context.Context, items [][]byte) (uint64, error) {
	added, err := f.AddEach(ctx, items)
	if err != nil {
		return 0, err
	}
	return countTrue(added), nil
}

// AddEach inserts items in a single store request and reports, per item,
// whether it was newly added.
func (f *Filter) AddEach(ctx context.Context, items [][]byte) ([]bool, error) {
	if len(items) == 0 {
		return nil, nil
	}

	cfg, err := f.Config(ctx)
	if err != nil {
		return nil, err
	}

	b := newBatch(items, cfg)

	previous, err := f.store.SetBits(ctx, f.name, b.unique)
	if err != nil {
		return nil, storeError("set bits", err)
	}
	if len(previous) != len(b.unique) {
		return nil, storeError("set bits", fmt.Errorf("store returned %d results for %d positions", len(previous), len(b.unique)))
	}

	// A bit that flipped 0 -> 1 belongs to the first item that maps to it.
	// Later items sharing that bit see it as already set, exactly as if the
	// items had been added one at a time.
	claimed := make([]bool, len(b.unique))
	added := make([]bool, len(items))
	for i := range items {
		for _, idx := range b.itemIndexes(i) {
			if !previous[idx] && !claimed[idx] {
				claimed[idx] = true
				added[i] = true
			}
		}
	}

	return added, nil
}

// Contains reports whether item is probably in the filter. False positives
// are possible; false negatives are not.
func (f *Filter) Contains(ctx context.Context, item []byte) (bool, error) {
	present, err := f.ContainsEach(ctx, [][]byte{item})
	if err != nil {
		return false, err
	}
	return present[0], nil
}

// ContainsAll checks items in a single store request and returns how many of
// them are probably present. The batch size limit of AddAll applies.
func (f *Filter) ContainsAll(ctx context.Context, items [][]byte) (uint64, error) {
	present, err := f.ContainsEach(ctx, items)
	if err != nil {
		return 0, err
	}
	return countTrue(present), nil
}

// ContainsEach checks items in a single store request and reports, per item,
// whether it is probably present.
func (f *Filter) ContainsEach(ctx context.Context, items [][]byte) ([]bool, error) {
	if len(items) == 0 {
		return nil, nil
	}

	cfg, err := f.Config(ctx)
	if err != nil {
		return nil, err
	}

	b := newBatch(items, cfg)

	bits, err := f.store.GetBits(ctx, f.name, b.unique)
	if err != nil {
		return nil, storeError("get bits", err)
	}
	if len(bits) != len(b.unique) {
		return nil, storeError("get bits", fmt.Errorf("store returned %d results for %d positions", len(bits), len(b.unique)))
	}

	present := make([]bool, len(items))
	for i := range items {
		present[i] = true
		for _, idx := range b.itemIndexes(i) {
			if !bits[idx] {
				present[i] = false
				break
			}
		}
	}

	return present, nil
}

// Count estimates the number of distinct items added to the filter from the
// fraction of bits that are set. The result is approximate and becomes
// meaningless as the filter saturates.
func (f *Filter) Count(ctx context.Context) (uint64, error) {
	cfg, err := f.Config(ctx)
	if err != nil {
		return 0, err
	}

	set, err := f.store.CountBits(ctx, f.name)
	if err != nil {
		return 0, storeError("count bits", err)
	}

	return EstimateCount(cfg.Size, cfg.HashIterations, set), nil
}

// Delete removes the filter's bit array and config record. It returns true
// if anything was removed. A deleted filter can be initialized again with
// different parameters.
func (f *Filter) Delete(ctx context.Context) (bool, error) {
	n, err := f.store.Delete(ctx, f.name, f.configKey)
	if err != nil {
		return false, storeError("delete", err)
	}
	return n > 0, nil
}

// batch is the merged position request for a group of items.
type batch struct {
	// unique holds every position of every item once, in ascending order.
	unique []uint64
	// indexes maps each item's positions to their offset in unique. The
	// positions of item i are indexes[i*k : (i+1)*k].
	indexes []int
	k       int
}

func newBatch(items [][]byte, cfg Config) *batch {
	k := int(cfg.HashIterations)
	positions := make([]uint64, 0, len(items)*k)
	for _, item := range items {
		positions = AppendPositions(positions, item, cfg.Size, cfg.HashIterations)
	}

	set := roaring64.New()
	set.AddMany(positions)
	unique := set.ToArray()

	indexes := make([]int, len(positions))
	for i, pos := range positions {
		// unique is sorted and contains every position by construction.
		indexes[i], _ = slices.BinarySearch(unique, pos)
	}

	return &batch{unique: unique, indexes: indexes, k: k}
}

func (b *batch) itemIndexes(i int) []int {
	return b.indexes[i*b.k : (i+1)*b.k]
}

func countTrue(values []bool) uint64 {
	var n uint64
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}
