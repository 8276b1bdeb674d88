// handlers_bloom.go implements the BF.* commands.
//
// These run the bloom package inside the server against the local store, for
// clients that want a filter without computing positions themselves. The
// layout is the one remote clients use: bits under the filter name, the
// config record under bloom.ConfigKey(name). A filter created with BF.RESERVE
// can be queried by a remote client and vice versa.
//
// BF.ADD and BF.MADD create a missing filter with the -bf-capacity and
// -bf-error-rate defaults. Creation is journaled as an explicit BF.RESERVE, so
// replay does not depend on the defaults the server was restarted with.

package main

import (
	"context"
	"errors"
	"io"
	"slices"
	"strconv"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

func (app *application) filter(name string) *bloom.Filter {
	return bloom.New(app.filters, name, bloom.WithLogger(app.logger))
}

// reserve initializes name and journals it if this call created it. Callers
// hold the shared journal lock.
func (app *application) reserve(ctx context.Context, f *bloom.Filter, capacity uint64, errorRate float64) (bool, error) {
	created, err := f.TryInit(ctx, capacity, errorRate)
	if err != nil {
		return false, err
	}
	if created {
		app.logCommand("BF.RESERVE", f.Name(),
			strconv.FormatFloat(errorRate, 'g', -1, 64),
			strconv.FormatUint(capacity, 10))
	}
	return created, nil
}

// addEach adds items to the filter under name, creating it with the server
// defaults if needed. Callers hold the shared journal lock.
func (app *application) addEach(name string, items [][]byte) ([]bool, error) {
	ctx := context.Background()
	f := app.filter(name)

	added, err := f.AddEach(ctx, items)
	if !errors.Is(err, bloom.ErrNotInitialized) {
		return added, err
	}

	if _, err := app.reserve(ctx, f, app.config.bfCapacity, app.config.bfErrorRate); err != nil {
		return nil, err
	}
	return f.AddEach(ctx, items)
}

// handleBFReserve handles the BF.RESERVE command.
// Syntax: BF.RESERVE key error_rate capacity
func (app *application) handleBFReserve(w io.Writer, args []string) {
	if len(args) != 3 {
		app.wrongNumberOfArgsResponse(w, "BF.RESERVE")
		return
	}

	errorRate, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		_ = resp.WriteError(w, msgNotFloat)
		return
	}
	capacity, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		_ = resp.WriteError(w, msgNotInteger)
		return
	}

	var created bool
	app.commuting(func() {
		created, err = app.reserve(context.Background(), app.filter(args[0]), capacity, errorRate)
	})
	if err != nil {
		app.filterErrorResponse(w, "BF.RESERVE", err)
		return
	}
	if !created {
		_ = resp.WriteError(w, msgItemExists)
		return
	}

	_ = resp.WriteSimpleString(w, "OK")
}

// handleBFAdd handles the BF.ADD command.
// Syntax: BF.ADD key item
//
// Returns 1 if the item was newly added, 0 if it was probably present.
func (app *application) handleBFAdd(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.ADD")
		return
	}

	var (
		added []bool
		err   error
	)
	app.commuting(func() {
		added, err = app.addEach(args[0], [][]byte{[]byte(args[1])})
		if err == nil && added[0] {
			app.logCommand("BF.ADD", args...)
		}
	})
	if err != nil {
		app.filterErrorResponse(w, "BF.ADD", err)
		return
	}

	_ = resp.WriteInteger(w, int64(boolToInt(added[0])))
}

// handleBFMAdd handles the BF.MADD command.
// Syntax: BF.MADD key item [item ...]
//
// Returns one 0/1 per item. The whole batch is one bit request, and an item
// repeated in the batch is reported as added only the first time.
func (app *application) handleBFMAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MADD")
		return
	}

	var (
		added []bool
		err   error
	)
	app.commuting(func() {
		added, err = app.addEach(args[0], toItems(args[1:]))
		if err == nil && slices.Contains(added, true) {
			app.logCommand("BF.MADD", args...)
		}
	})
	if err != nil {
		app.filterErrorResponse(w, "BF.MADD", err)
		return
	}

	_ = resp.WriteBoolArray(w, added)
}

// handleBFExists handles the BF.EXISTS command.
// Syntax: BF.EXISTS key item
//
// A filter that does not exist contains nothing.
func (app *application) handleBFExists(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "BF.EXISTS")
		return
	}

	present, err := app.filter(args[0]).Contains(context.Background(), []byte(args[1]))
	if err != nil && !errors.Is(err, bloom.ErrNotInitialized) {
		app.filterErrorResponse(w, "BF.EXISTS", err)
		return
	}

	_ = resp.WriteInteger(w, int64(boolToInt(present)))
}

// handleBFMExists handles the BF.MEXISTS command.
// Syntax: BF.MEXISTS key item [item ...]
func (app *application) handleBFMExists(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BF.MEXISTS")
		return
	}

	items := toItems(args[1:])

	present, err := app.filter(args[0]).ContainsEach(context.Background(), items)
	if errors.Is(err, bloom.ErrNotInitialized) {
		present, err = make([]bool, len(items)), nil
	}
	if err != nil {
		app.filterErrorResponse(w, "BF.MEXISTS", err)
		return
	}

	_ = resp.WriteBoolArray(w, present)
}

// handleBFCard handles the BF.CARD command.
// Syntax: BF.CARD key
//
// Returns the estimated number of distinct items added, derived from the
// number of set bits. A missing filter has cardinality 0.
func (app *application) handleBFCard(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.CARD")
		return
	}

	count, err := app.filter(args[0]).Count(context.Background())
	if err != nil && !errors.Is(err, bloom.ErrNotInitialized) {
		app.filterErrorResponse(w, "BF.CARD", err)
		return
	}

	_ = resp.WriteInteger(w, clampInt64(count))
}

// handleBFInfo handles the BF.INFO command.
// Syntax: BF.INFO key
//
// Returns a flat array of field/value pairs describing the filter.
func (app *application) handleBFInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BF.INFO")
		return
	}

	ctx := context.Background()
	f := app.filter(args[0])

	cfg, err := f.Config(ctx)
	if err != nil {
		app.filterErrorResponse(w, "BF.INFO", err)
		return
	}
	count, err := f.Count(ctx)
	if err != nil {
		app.filterErrorResponse(w, "BF.INFO", err)
		return
	}

	_ = resp.WriteArrayHeader(w, 10)
	_ = resp.WriteBulkString(w, "Capacity")
	_ = resp.WriteInteger(w, clampInt64(cfg.ExpectedInsertions))
	_ = resp.WriteBulkString(w, "Error rate")
	_ = resp.WriteBulkString(w, strconv.FormatFloat(cfg.FalseProbability, 'g', -1, 64))
	_ = resp.WriteBulkString(w, "Size")
	_ = resp.WriteInteger(w, clampInt64(cfg.Size))
	_ = resp.WriteBulkString(w, "Number of hash functions")
	_ = resp.WriteInteger(w, int64(cfg.HashIterations))
	_ = resp.WriteBulkString(w, "Number of items inserted")
	_ = resp.WriteInteger(w, clampInt64(count))
}

func toItems(args []string) [][]byte {
	items := make([][]byte, len(args))
	for i, arg := range args {
		items[i] = []byte(arg)
	}
	return items
}

// clampInt64 converts for RESP integers. A saturated filter's count is
// MaxUint64, which is reported as MaxInt64.
func clampInt64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}
