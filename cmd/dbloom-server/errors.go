package main

import (
	"errors"
	"fmt"
	"io"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/kv"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

const (
	msgWrongType     = "WRONGTYPE Operation against a key holding the wrong kind of value"
	msgBitOffset     = "ERR bit offset is not an integer or out of range"
	msgBitValue      = "ERR bit is not an integer or out of range"
	msgNotInteger    = "ERR value is not an integer or out of range"
	msgNotFloat      = "ERR value is not a valid float"
	msgItemExists    = "ERR item exists"
	msgFilterMissing = "ERR not found"
)

func (app *application) wrongTypeResponse(w io.Writer) {
	_ = resp.WriteError(w, msgWrongType)
}

func (app *application) unknownCommandResponse(w io.Writer, commandName string) {
	_ = resp.WriteError(w, fmt.Sprintf("ERR unknown command '%s'", commandName))
}

func (app *application) wrongNumberOfArgsResponse(w io.Writer, commandName string) {
	_ = resp.WriteError(w, fmt.Sprintf("ERR wrong number of arguments for '%s' command", commandName))
}

// filterErrorResponse maps an error from the bloom package to a RESP error.
func (app *application) filterErrorResponse(w io.Writer, command string, err error) {
	switch {
	case errors.Is(err, bloom.ErrNotInitialized):
		_ = resp.WriteError(w, msgFilterMissing)
	case errors.Is(err, bloom.ErrCorruptConfig):
		app.wrongTypeResponse(w)
	case errors.Is(err, kv.ErrBitOffset):
		_ = resp.WriteError(w, "ERR filter is larger than the maximum bit offset")
	case errors.Is(err, bloom.ErrInvalidArgument):
		_ = resp.WriteError(w, "ERR "+err.Error())
	default:
		app.logger.Error("filter operation failed", "command", command, "error", err)
		_ = resp.WriteError(w, "ERR "+err.Error())
	}
}
