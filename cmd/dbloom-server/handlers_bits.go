// handlers_bits.go implements the bit commands a remote filter client uses.
//
// SETBIT, GETBIT and BITCOUNT follow Redis. BITS.SET and BITS.GET are the
// batched forms: one request carries every position of a filter operation
// and is applied under a single shard lock, so the batch is atomic and costs
// one round trip.
//
// Bit Layout
// ==========
//
// Bit i lives in byte i/8 under mask 0x80 >> (i%8), the layout Redis uses, so
// GET on a bit array returns the same bytes Redis would.

package main

import (
	"errors"
	"io"
	"slices"
	"strconv"

	"dbloom.lopezb.com/internal/dbloom/kv"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

// handleSetBit handles the SETBIT command.
// Syntax: SETBIT key offset value
//
// Returns the previous value of the bit.
func (app *application) handleSetBit(w io.Writer, args []string) {
	if len(args) != 3 {
		app.wrongNumberOfArgsResponse(w, "SETBIT")
		return
	}

	offset, ok := parseOffset(args[1])
	if !ok {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	var value bool
	switch args[2] {
	case "0":
	case "1":
		value = true
	default:
		_ = resp.WriteError(w, msgBitValue)
		return
	}

	var (
		previous bool
		err      error
	)
	app.serialized(func() {
		previous, err = app.store.SetBit(args[0], offset, value)
		if err == nil {
			app.logCommand("SETBIT", args...)
		}
	})
	if err != nil {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	_ = resp.WriteInteger(w, int64(boolToInt(previous)))
}

// handleGetBit handles the GETBIT command.
// Syntax: GETBIT key offset
func (app *application) handleGetBit(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "GETBIT")
		return
	}

	offset, ok := parseOffset(args[1])
	if !ok {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	bit, err := app.store.GetBit(args[0], offset)
	if err != nil {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	_ = resp.WriteInteger(w, int64(boolToInt(bit)))
}

// handleBitCount handles the BITCOUNT command.
// Syntax: BITCOUNT key
//
// Byte ranges are not supported. A missing key counts 0.
func (app *application) handleBitCount(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "BITCOUNT")
		return
	}

	_ = resp.WriteInteger(w, int64(app.store.BitCount(args[0])))
}

// handleBitsSet handles the BITS.SET command.
// Syntax: BITS.SET key offset [offset ...]
//
// Sets every offset to 1 and returns an array with the previous value of each
// bit, in request order. Nothing is written if any offset is invalid.
func (app *application) handleBitsSet(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BITS.SET")
		return
	}

	positions, ok := parseOffsets(args[1:])
	if !ok {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	var (
		previous []bool
		err      error
	)
	app.commuting(func() {
		previous, err = app.store.SetBits(args[0], positions)
		// All bits were already set means the value did not change.
		if err == nil && slices.Contains(previous, false) {
			app.logCommand("BITS.SET", args...)
		}
	})
	if err != nil {
		if !errors.Is(err, kv.ErrBitOffset) {
			app.logger.Error("BITS.SET failed", "key", args[0], "error", err)
		}
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	_ = resp.WriteBoolArray(w, previous)
}

// handleBitsGet handles the BITS.GET command.
// Syntax: BITS.GET key offset [offset ...]
//
// Returns an array with the value of each bit, in request order.
func (app *application) handleBitsGet(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "BITS.GET")
		return
	}

	positions, ok := parseOffsets(args[1:])
	if !ok {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	bits, err := app.store.GetBits(args[0], positions)
	if err != nil {
		_ = resp.WriteError(w, msgBitOffset)
		return
	}

	_ = resp.WriteBoolArray(w, bits)
}

// parseOffset parses a bit offset in [0, kv.MaxBitOffset).
func parseOffset(s string) (uint64, bool) {
	offset, err := strconv.ParseUint(s, 10, 64)
	if err != nil || offset >= kv.MaxBitOffset {
		return 0, false
	}
	return offset, true
}

func parseOffsets(args []string) ([]uint64, bool) {
	positions := make([]uint64, len(args))
	for i, arg := range args {
		offset, ok := parseOffset(arg)
		if !ok {
			return nil, false
		}
		positions[i] = offset
	}
	return positions, true
}
