package kv

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBasicOperations(t *testing.T) {
	s := NewStore()

	assert.True(t, s.SetNX("k", []byte("v1")))
	assert.False(t, s.SetNX("k", []byte("v2")))

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	s.Set("k", []byte("v3"))
	v, _ = s.Get("k")
	assert.Equal(t, []byte("v3"), v)

	assert.True(t, s.Exists("k"))
	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"))
	assert.False(t, s.Exists("k"))

	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	_, err := s.SetBit("bits", 0, true)
	require.NoError(t, err)

	snapshot, _ := s.Get("bits")
	_, err = s.SetBit("bits", 1, true)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x80}, snapshot)
	current, _ := s.Get("bits")
	assert.Equal(t, []byte{0xc0}, current)
}

func TestBitLayout(t *testing.T) {
	s := NewStore()

	for _, pos := range []uint64{0, 9, 23} {
		_, err := s.SetBit("k", pos, true)
		require.NoError(t, err)
	}

	v, _ := s.Get("k")
	assert.Equal(t, []byte{0x80, 0x40, 0x01}, v)
	assert.Equal(t, uint64(3), s.BitCount("k"))

	prev, err := s.SetBit("k", 9, false)
	require.NoError(t, err)
	assert.True(t, prev)

	v, _ = s.Get("k")
	assert.Equal(t, []byte{0x80, 0x00, 0x01}, v, "clearing a bit never shrinks the value")
}

func TestSetBits(t *testing.T) {
	s := NewStore()

	prev, err := s.SetBits("k", []uint64{3, 100, 3})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true}, prev, "a repeated position sees its own earlier write")

	prev, err = s.SetBits("k", []uint64{100, 4})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, prev)

	got, err := s.GetBits("k", []uint64{3, 4, 5, 100, 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, true, false}, got)

	got, err = s.GetBits("missing", []uint64{0, 7})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, got)

	assert.Zero(t, s.BitCount("missing"))
}

func TestBitOffsetLimit(t *testing.T) {
	s := NewStore()

	_, err := s.SetBits("k", []uint64{1, MaxBitOffset})
	assert.ErrorIs(t, err, ErrBitOffset)
	assert.False(t, s.Exists("k"), "a rejected batch must not write any bit")

	_, err = s.GetBits("k", []uint64{MaxBitOffset})
	assert.ErrorIs(t, err, ErrBitOffset)

	_, err = s.SetBit("k", MaxBitOffset, true)
	assert.ErrorIs(t, err, ErrBitOffset)

	_, err = s.GetBit("k", MaxBitOffset-1)
	assert.NoError(t, err)
}

func TestEmptySetBits(t *testing.T) {
	s := NewStore()

	prev, err := s.SetBits("k", nil)
	require.NoError(t, err)
	assert.Empty(t, prev)
	assert.False(t, s.Exists("k"))
}

func TestKeysAndLen(t *testing.T) {
	s := NewStore()
	for _, k := range []string{"c", "a", "b"} {
		s.Set(k, []byte(k))
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
}

func TestConcurrentSetBits(t *testing.T) {
	s := NewStore()

	// Every worker sets a disjoint range of the same key. Exactly one worker
	// may observe each bit as newly set.
	var g errgroup.Group
	results := make([][]bool, 16)
	for w := range 16 {
		g.Go(func() error {
			positions := make([]uint64, 64)
			for i := range positions {
				positions[i] = uint64(i*16 + w)
			}
			var err error
			results[w], err = s.SetBits("shared", positions)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, uint64(1024), s.BitCount("shared"))
	for w, prev := range results {
		for i, p := range prev {
			assert.False(t, p, "worker %d position %d", w, i)
		}
	}
}

func TestLocal(t *testing.T) {
	l := NewLocal(NewStore())
	ctx := t.Context()

	created, err := l.PublishIfAbsent(ctx, "rec", []byte("a"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = l.PublishIfAbsent(ctx, "rec", []byte("b"))
	require.NoError(t, err)
	assert.False(t, created)

	record, found, err := l.ReadRecord(ctx, "rec")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("a"), record)

	_, err = l.SetBits(ctx, "bits", []uint64{1, 2})
	require.NoError(t, err)

	n, err := l.CountBits(ctx, "bits")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	deleted, err := l.Delete(ctx, "rec", "bits", "missing")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Zero(t, l.Store().Len())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.GetBits(canceled, "bits", []uint64{1})
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkSetBits(b *testing.B) {
	s := NewStore()
	positions := make([]uint64, 7)

	for i := 0; b.Loop(); i++ {
		for j := range positions {
			positions[j] = uint64((i*7 + j) % 9586)
		}
		_, _ = s.SetBits(fmt.Sprintf("k%d", i%64), positions)
	}
}
