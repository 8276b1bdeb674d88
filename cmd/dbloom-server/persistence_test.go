package main

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/kv"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

// newPersistentApp returns an application whose journal lives in dir. The
// journal is loaded and opened exactly as main does it.
func newPersistentApp(t *testing.T, path string) *application {
	t.Helper()

	app := newTestAppWithConfig(t, config{
		maxConnections:   10,
		bfCapacity:       1000,
		bfErrorRate:      0.01,
		persistence:      true,
		aofFilename:      path,
		aofLoadTruncated: true,
	})

	if err := app.loadAOF(); err != nil {
		t.Fatalf("loadAOF: %v", err)
	}

	aof, err := NewAOF(path)
	if err != nil {
		t.Fatalf("NewAOF: %v", err)
	}
	app.aof = aof

	return app
}

// run dispatches a command without a network round trip and returns the
// raw reply.
func run(app *application, parts ...string) string {
	var buf bytes.Buffer
	app.router.Dispatch(app, &buf, parts)
	return buf.String()
}

func closeApp(t *testing.T, app *application) {
	t.Helper()
	if err := app.aof.Close(); err != nil {
		t.Fatalf("close AOF: %v", err)
	}
}

func TestJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	app := newPersistentApp(t, path)
	run(app, "SET", "plain", "value")
	run(app, "SETNX", bloom.ConfigKey("remote"), "record")
	run(app, "BITS.SET", "remote", "1", "5", "9")
	run(app, "SETBIT", "single", "3", "1")
	run(app, "BF.RESERVE", "f", "0.001", "500")
	run(app, "BF.MADD", "f", "a", "b", "c")
	run(app, "BF.ADD", "implicit", "x")
	run(app, "SET", "gone", "soon")
	run(app, "DEL", "gone")
	closeApp(t, app)

	restored := newPersistentApp(t, path)
	defer closeApp(t, restored)

	if got := run(restored, "GET", "plain"); got != "$5\r\nvalue\r\n" {
		t.Errorf("GET plain: got %q", got)
	}
	if got := run(restored, "GET", bloom.ConfigKey("remote")); got != "$6\r\nrecord\r\n" {
		t.Errorf("GET config: got %q", got)
	}
	if got := run(restored, "BITCOUNT", "remote"); got != ":3\r\n" {
		t.Errorf("BITCOUNT remote: got %q", got)
	}
	if got := run(restored, "GETBIT", "single", "3"); got != ":1\r\n" {
		t.Errorf("GETBIT single: got %q", got)
	}
	if got := run(restored, "EXISTS", "gone"); got != ":0\r\n" {
		t.Errorf("deleted key came back: %q", got)
	}
	if got := run(restored, "BF.MEXISTS", "f", "a", "b", "c"); got != "*3\r\n:1\r\n:1\r\n:1\r\n" {
		t.Errorf("BF.MEXISTS: got %q", got)
	}
	if got := run(restored, "BF.EXISTS", "implicit", "x"); got != ":1\r\n" {
		t.Errorf("BF.EXISTS implicit: got %q", got)
	}

	// The filter keeps the parameters it was reserved with.
	cfg, err := bloom.New(restored.filters, "f").Config(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpectedInsertions != 500 || cfg.FalseProbability != 0.001 {
		t.Errorf("restored config %+v", cfg)
	}
}

func TestJournalImplicitCreateIsExplicit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	app := newPersistentApp(t, path)
	run(app, "BF.ADD", "f", "x")
	closeApp(t, app)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	reserve := resp.EncodeCommand("BF.RESERVE", []string{"f", "0.01", "1000"})
	add := resp.EncodeCommand("BF.ADD", []string{"f", "x"})
	if want := append(reserve, add...); !bytes.Equal(data, want) {
		t.Errorf("journal:\n got %q\nwant %q", data, want)
	}
}

func TestJournalSkipsNoOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	app := newPersistentApp(t, path)
	run(app, "SETNX", "k", "v")
	run(app, "SETNX", "k", "other")
	run(app, "DEL", "missing")
	run(app, "BITS.SET", "b", "1")
	run(app, "BITS.SET", "b", "1")
	run(app, "GET", "k")
	closeApp(t, app)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	want := string(resp.EncodeCommand("SETNX", []string{"k", "v"})) +
		string(resp.EncodeCommand("BITS.SET", []string{"b", "1"}))
	if string(data) != want {
		t.Errorf("journal:\n got %q\nwant %q", data, want)
	}
}

func storeContents(store *kv.Store) map[string]string {
	contents := make(map[string]string)
	for _, key := range store.Keys() {
		value, _ := store.Get(key)
		contents[key] = string(value)
	}
	return contents
}

// Concurrent deletes and writes on the same keys must be journaled in the
// order they reached the store, or replay resurrects or drops data.
func TestJournalOrderUnderConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	app := newPersistentApp(t, path)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Go(func() {
			for i := range 300 {
				key := fmt.Sprintf("f%d", i%4)
				switch (w + i) % 5 {
				case 0:
					run(app, "DEL", key, bloom.ConfigKey(key))
				case 1:
					run(app, "BITS.SET", key, strconv.Itoa(i), strconv.Itoa(i+w+1))
				case 2:
					run(app, "SETNX", bloom.ConfigKey(key), strconv.Itoa(w))
				case 3:
					run(app, "SETBIT", key, strconv.Itoa(i%16), strconv.Itoa(w%2))
				case 4:
					run(app, "SET", bloom.ConfigKey(key), strconv.Itoa(i))
				}
			}
		})
	}
	wg.Wait()

	want := storeContents(app.store)
	closeApp(t, app)

	restored := newPersistentApp(t, path)
	defer closeApp(t, restored)

	if got := storeContents(restored.store); !maps.Equal(got, want) {
		t.Errorf("replayed store differs from the live one:\n got %q\nwant %q", got, want)
	}
}

func TestJournalTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	complete := resp.EncodeCommand("SET", []string{"a", "1"})
	partial := resp.EncodeCommand("SET", []string{"b", "2"})
	partial = partial[:len(partial)-3]

	if err := os.WriteFile(path, append(complete, partial...), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("recovers by default", func(t *testing.T) {
		app := newPersistentApp(t, path)
		defer closeApp(t, app)

		if !app.needsCompaction {
			t.Error("expected needsCompaction after a truncated load")
		}
		if got := run(app, "EXISTS", "a", "b"); got != ":1\r\n" {
			t.Errorf("EXISTS: got %q, want :1", got)
		}
	})

	t.Run("strict mode refuses", func(t *testing.T) {
		app := newTestAppWithConfig(t, config{aofFilename: path, aofLoadTruncated: false})
		err := app.loadAOF()
		if err == nil || !strings.Contains(err.Error(), "truncated") {
			t.Errorf("expected a truncation error, got %v", err)
		}
	})
}

func TestCompactAOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	app := newPersistentApp(t, path)
	for _, item := range []string{"a", "b", "c", "d"} {
		run(app, "BF.ADD", "f", item)
	}
	run(app, "SET", "plain", "before")

	if err := app.CompactAOF(); err != nil {
		t.Fatalf("CompactAOF: %v", err)
	}

	// Written after compaction: must land in the text tail of the new file.
	run(app, "SET", "plain", "after")
	run(app, "BF.ADD", "f", "e")
	closeApp(t, app)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte(kv.SnapshotMagic)) {
		t.Fatalf("compacted journal does not start with a snapshot: %q", data[:min(len(data), 8)])
	}
	if app.aofBaseSize.Load() == 0 {
		t.Error("aofBaseSize was not updated")
	}

	restored := newPersistentApp(t, path)
	defer closeApp(t, restored)

	if got := run(restored, "GET", "plain"); got != "$5\r\nafter\r\n" {
		t.Errorf("GET plain: got %q", got)
	}
	if got := run(restored, "BF.MEXISTS", "f", "a", "b", "c", "d", "e"); got != "*5\r\n:1\r\n:1\r\n:1\r\n:1\r\n:1\r\n" {
		t.Errorf("BF.MEXISTS: got %q", got)
	}
}

func TestLoadMissingJournal(t *testing.T) {
	app := newTestAppWithConfig(t, config{aofFilename: filepath.Join(t.TempDir(), "none.aof")})
	if err := app.loadAOF(); err != nil {
		t.Fatalf("missing journal should load as empty: %v", err)
	}
	if app.store.Len() != 0 {
		t.Errorf("store has %d keys", app.store.Len())
	}
}

func TestLoadCorruptPreamble(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.aof")

	store := kv.NewStore()
	store.Set("k", []byte("v"))
	var snap bytes.Buffer
	if err := store.SaveSnapshotToWriter(&snap); err != nil {
		t.Fatal(err)
	}
	data := snap.Bytes()
	data[len(data)-1] ^= 0xFF

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	app := newTestAppWithConfig(t, config{aofFilename: path})
	err := app.loadAOF()
	if err == nil || !strings.Contains(err.Error(), "corrupt hybrid preamble") {
		t.Errorf("expected a preamble error, got %v", err)
	}
}
