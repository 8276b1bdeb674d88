// persistence.go connects the in-memory store to the journal file.
//
// The journal is hybrid: an optional DBF1 snapshot followed by a tail of RESP
// commands, the same bytes a client would send.
//
//	+-----------------------+---------------------------+
//	| Binary Preamble       | Text Tail                 |
//	| (DBF1 Snapshot)       | (RESP Commands)           |
//	+-----------------------+---------------------------+
//
// Startup loads the preamble and then replays the tail through the router.
// Every journaled command is idempotent (bits only ever get set to a stated
// value, records are only created if absent), so replaying a command whose
// effect is already in the snapshot is harmless. Compaction relies on this.
//
// Idempotent is not the same as commutative. BITS.SET, SETNX and the BF.*
// writes commute with each other, but DEL, SET and SETBIT do not: replaying
// "DEL f" before "BITS.SET f 3" leaves a different store than the reverse.
// Every handler therefore applies its change and appends it to the journal
// inside one journalMu section, shared for commuting writes and exclusive for
// the rest, so the journal order of non-commuting commands is the order in
// which they hit the store.
//
// Compaction
// ==========
//
// CompactAOF writes a fresh snapshot to a temporary file without holding the
// journal lock. Commands journaled while it runs are also copied to a rewrite
// buffer. Under the lock, the buffer is appended to the temporary file, which
// then atomically replaces the journal. A crash at any point leaves either
// the old journal or the complete new one.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"dbloom.lopezb.com/internal/dbloom/kv"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

// logCommand appends a state-changing command to the journal. Handlers call
// it after the store mutation succeeded. A failed append is logged and
// counted but not reported to the client: the in-memory state is already
// correct.
func (app *application) logCommand(command string, args ...string) {
	if app.aof == nil {
		return
	}

	data := resp.EncodeCommand(command, args)

	if err := app.aof.Write(data); err != nil {
		app.metrics.JournalErrors.Inc()
		app.logger.Error("failed to append to AOF", "error", err, "command", command)
	}
}

// commuting runs fn, a store change together with its journal append,
// alongside other commuting changes.
func (app *application) commuting(fn func()) {
	app.journalMu.RLock()
	defer app.journalMu.RUnlock()
	fn()
}

// serialized runs fn, a store change together with its journal append, with
// every other change excluded.
func (app *application) serialized(fn func()) {
	app.journalMu.Lock()
	defer app.journalMu.Unlock()
	fn()
}

// loadAOF restores the store from the journal. A missing file is an empty
// store. It runs before the listener starts.
func (app *application) loadAOF() error {
	f, err := os.Open(app.config.aofFilename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	// One buffered reader is shared by the snapshot loader and the command
	// parser, so the parser starts exactly where the snapshot ended.
	reader := bufio.NewReader(f)

	magic, _ := reader.Peek(len(kv.SnapshotMagic))
	if string(magic) == kv.SnapshotMagic {
		app.logger.Info("loading hybrid AOF preamble...")
		if err := app.store.LoadSnapshotFromReader(reader); err != nil {
			return fmt.Errorf("corrupt hybrid preamble: %w", err)
		}
	}

	parser := resp.NewParserFromReader(reader)
	replayed := 0

	for {
		parts, err := parser.Parse()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A command cut short by a crash is expected at the very end of
			// the file. Anything else is corruption.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if app.config.aofLoadTruncated {
					app.logger.Warn("AOF truncated at end, ignoring partial last command", "replayed", replayed)
					app.needsCompaction = true
					return nil
				}
				return errors.New("AOF truncated (run with -aof-load-truncated=true to auto-recover, or inspect it with dbloom-check)")
			}
			return err
		}

		app.router.Dispatch(app, io.Discard, parts)
		replayed++
	}

	app.logger.Info("AOF loaded", "keys", app.store.Len(), "replayed", replayed)
	return nil
}

// CompactAOF replaces the journal with a snapshot of the current store plus
// whatever was journaled while the snapshot was being written.
func (app *application) CompactAOF() error {
	tmpName := app.config.aofFilename + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}

	var (
		fileClosed    bool
		renameSuccess bool
	)
	defer func() {
		if !fileClosed {
			_ = f.Close()
		}
		if !renameSuccess {
			_ = os.Remove(tmpName)
		}
	}()

	app.aof.mu.Lock()
	app.aof.rewriteBuf = new(bytes.Buffer)
	app.aof.mu.Unlock()

	// Whatever happens below, stop copying into the rewrite buffer.
	defer func() {
		app.aof.mu.Lock()
		app.aof.rewriteBuf = nil
		app.aof.mu.Unlock()
	}()

	bw := bufio.NewWriter(f)
	if err := app.store.SaveSnapshotToWriter(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	app.aof.mu.Lock()
	defer app.aof.mu.Unlock()

	if _, err := app.aof.rewriteBuf.WriteTo(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fileClosed = true

	if err := app.aof.writer.Flush(); err != nil {
		// The rewrite buffer holds everything journaled since the snapshot
		// started, so nothing is lost by swapping anyway.
		app.logger.Error("failed to flush old AOF before rewrite", "error", err)
	}
	_ = app.aof.file.Close()

	if err := os.Rename(tmpName, app.config.aofFilename); err != nil {
		return err
	}
	renameSuccess = true

	newFile, err := os.OpenFile(app.config.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return err
	}

	app.aof.file = newFile
	app.aof.writer.Reset(newFile)

	if stat, err := newFile.Stat(); err == nil {
		app.aofBaseSize.Store(stat.Size())
	}

	return nil
}
