// handlers.go implements the server-level commands: PING, INFO, DEL, EXISTS,
// MEMORY USAGE and COMPACT.

package main

import (
	"fmt"
	"io"
	"strings"

	"dbloom.lopezb.com/internal/dbloom/resp"
)

// handlePing handles the PING command.
// Syntax: PING
func (app *application) handlePing(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "PING")
		return
	}
	_ = resp.WriteSimpleString(w, "PONG")
}

// handleInfo handles the INFO command.
// Syntax: INFO
//
// The report uses the Redis INFO layout: "# Section" headers followed by
// key:value lines.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) > 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	var b strings.Builder

	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", app.metrics.TotalConnections.Load())
	fmt.Fprintf(&b, "connections_active:%d\r\n", len(app.connLimiter))
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", app.metrics.TotalCommands.Load())

	b.WriteString("# Persistence\r\n")
	fmt.Fprintf(&b, "aof_enabled:%d\r\n", boolToInt(app.aof != nil))
	fmt.Fprintf(&b, "aof_rewrite_in_progress:%d\r\n", boolToInt(app.isRewriting.Load()))
	fmt.Fprintf(&b, "aof_base_size:%d\r\n", app.aofBaseSize.Load())

	b.WriteString("# Keyspace\r\n")
	fmt.Fprintf(&b, "keys:%d\r\n", app.store.Len())

	_ = resp.WriteBulkString(w, b.String())
}

// handleCompact handles the COMPACT command.
// Syntax: COMPACT
//
// The rewrite runs in the background and shares the isRewriting flag with the
// maintenance loop, so at most one compaction runs at a time. The outcome is
// only reported in the server log.
func (app *application) handleCompact(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "COMPACT")
		return
	}

	if app.aof == nil {
		_ = resp.WriteError(w, "ERR persistence is disabled, nothing to compact")
		return
	}

	if !app.isRewriting.CompareAndSwap(false, true) {
		_ = resp.WriteError(w, "ERR Background append only file rewriting already in progress")
		return
	}

	go func() {
		defer app.isRewriting.Store(false)

		app.logger.Info("user requested background AOF rewrite started")

		if err := app.CompactAOF(); err != nil {
			app.logger.Error("background rewrite failed", "error", err)
			return
		}
		app.metrics.Compactions.Inc()
		app.logger.Info("background AOF rewrite finished successfully")
	}()

	_ = resp.WriteSimpleString(w, "Background append only file rewriting started")
}

// handleDel handles the DEL command.
// Syntax: DEL key [key ...]
//
// Returns the number of keys removed. Only removed keys are journaled.
func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	var deleted []string
	app.serialized(func() {
		for _, key := range args {
			if app.store.Delete(key) {
				deleted = append(deleted, key)
			}
		}

		if len(deleted) > 0 {
			app.logCommand("DEL", deleted...)
		}
	})

	_ = resp.WriteInteger(w, int64(len(deleted)))
}

// handleExists handles the EXISTS command.
// Syntax: EXISTS key [key ...]
//
// A key named twice is counted twice, as in Redis.
func (app *application) handleExists(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "EXISTS")
		return
	}

	var n int64
	for _, key := range args {
		if app.store.Exists(key) {
			n++
		}
	}

	_ = resp.WriteInteger(w, n)
}

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE <key>
func (app *application) handleMemory(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "MEMORY")
		return
	}

	switch subcommand := strings.ToUpper(args[0]); subcommand {
	case "USAGE":
		app.handleMemoryUsage(w, args[1:])
	default:
		_ = resp.WriteError(w, fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key>", subcommand))
	}
}

// handleMemoryUsage reports the approximate bytes held by a key, or nil if
// the key does not exist. The 72 byte overhead covers the key's string
// header, the value's slice header and the map entry.
func (app *application) handleMemoryUsage(w io.Writer, args []string) {
	if len(args) != 1 {
		_ = resp.WriteError(w, "ERR wrong number of arguments for 'MEMORY USAGE' command")
		return
	}

	const mapOverhead = 72

	key := args[0]
	size := -1

	_ = app.store.View(key, func(data []byte) error {
		if data != nil {
			size = len(key) + len(data) + mapOverhead
		}
		return nil
	})

	if size < 0 {
		_ = resp.WriteNil(w)
		return
	}

	_ = resp.WriteInteger(w, int64(size))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
