// handlers_string.go implements SET, GET and SETNX. Values are raw byte
// strings; the server does not interpret them. Filter clients publish their
// config record with SETNX and read it back with GET.

package main

import (
	"io"

	"dbloom.lopezb.com/internal/dbloom/resp"
)

// handleSet handles the SET command.
// Syntax: SET key value
func (app *application) handleSet(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "SET")
		return
	}

	app.serialized(func() {
		app.store.Set(args[0], []byte(args[1]))
		app.logCommand("SET", args...)
	})

	_ = resp.WriteSimpleString(w, "OK")
}

// handleGet handles the GET command.
// Syntax: GET key
//
// Returns the value as a bulk string, or nil if the key does not exist.
func (app *application) handleGet(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "GET")
		return
	}

	value, found := app.store.Get(args[0])
	if !found {
		_ = resp.WriteNil(w)
		return
	}

	_ = resp.WriteBulkBytes(w, value)
}

// handleSetNX handles the SETNX command.
// Syntax: SETNX key value
//
// Returns 1 if the value was stored, 0 if the key already existed. This is
// the create-if-absent primitive that decides which client initializes a
// filter.
func (app *application) handleSetNX(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "SETNX")
		return
	}

	var stored bool
	app.commuting(func() {
		stored = app.store.SetNX(args[0], []byte(args[1]))
		if stored {
			app.logCommand("SETNX", args...)
		}
	})

	_ = resp.WriteInteger(w, int64(boolToInt(stored)))
}
