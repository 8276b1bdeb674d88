// dbloom-check inspects and validates a dbloom journal file without starting
// a server.
//
// It verifies the DBF1 preamble (structure and CRC64), parses the RESP text
// tail that follows it, and cross-checks every Bloom filter it finds: the
// config record must decode, and the bit array must not have bits set past
// the filter size.
//
// Usage Examples
// ==============
//
//	dbloom-check -file journal.aof
//	dbloom-check -file journal.aof -v
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is corrupted or unreadable, or a filter is inconsistent.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/bits"
	"os"
	"slices"
	"strings"
	"time"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/kv"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

func main() {
	filePath := flag.String("file", "journal.aof", "Path to the journal file")
	verbose := flag.Bool("v", false, "Verbose mode (print every key)")
	flag.Parse()

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] Cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("Checking dbloom journal %s\n", *filePath)

	start := time.Now()
	rep, err := check(f)
	rep.print(os.Stdout, *verbose)
	fmt.Printf("  Process Time: %v\n", time.Since(start))

	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] %v\n", err)
		os.Exit(1)
	}
	if len(rep.problems) > 0 {
		os.Exit(1)
	}
}

// entry summarizes one key of the snapshot. Values are not retained.
type entry struct {
	key     string
	shard   int
	size    int
	setBits uint64
	highest int64 // highest set bit, -1 if none
	config  *bloom.Config
	cfgErr  error
}

type report struct {
	snapshot bool
	entries  []entry
	commands map[string]int
	tail     int
	problems []string
}

// check validates the journal read from r. A non-nil error means the file
// itself is damaged; inconsistencies between keys are collected in
// report.problems.
func check(r io.Reader) (*report, error) {
	rep := &report{commands: make(map[string]int)}
	reader := bufio.NewReader(r)

	magic, _ := reader.Peek(len(kv.SnapshotMagic))
	if string(magic) == kv.SnapshotMagic {
		rep.snapshot = true
		err := kv.ScanSnapshot(reader, func(shardID int, key string, value []byte) error {
			rep.entries = append(rep.entries, summarize(shardID, key, value))
			return nil
		})
		if err != nil {
			return rep, fmt.Errorf("binary preamble: %w", err)
		}
	}

	parser := resp.NewParserFromReader(reader)
	for {
		parts, err := parser.Parse()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return rep, fmt.Errorf("text tail truncated after %d commands (the server recovers with -aof-load-truncated)", rep.tail)
		}
		if err != nil {
			return rep, fmt.Errorf("text tail command %d: %w", rep.tail+1, err)
		}
		if len(parts) == 0 {
			continue
		}
		rep.tail++
		rep.commands[strings.ToUpper(parts[0])]++
	}

	rep.crossCheck()
	return rep, nil
}

func summarize(shardID int, key string, value []byte) entry {
	e := entry{key: key, shard: shardID, size: len(value), highest: -1}

	if bloom.IsConfigRecord(value) {
		var cfg bloom.Config
		if err := cfg.UnmarshalBinary(value); err != nil {
			e.cfgErr = err
		} else {
			e.config = &cfg
		}
		return e
	}

	for i, b := range value {
		if b == 0 {
			continue
		}
		e.setBits += uint64(bits.OnesCount8(b))
		// Bit 0 of a byte is its most significant bit.
		e.highest = int64(i)*8 + int64(7-bits.TrailingZeros8(b))
	}
	return e
}

// crossCheck pairs every config record with its bit array.
func (rep *report) crossCheck() {
	byKey := make(map[string]*entry, len(rep.entries))
	for i := range rep.entries {
		byKey[rep.entries[i].key] = &rep.entries[i]
	}

	for _, e := range rep.entries {
		if e.cfgErr != nil {
			rep.problems = append(rep.problems, fmt.Sprintf("key %q: %v", e.key, e.cfgErr))
			continue
		}
		if e.config == nil {
			continue
		}

		name, ok := filterName(e.key)
		if !ok {
			continue
		}
		data, ok := byKey[name]
		if !ok {
			// Initialized but nothing added yet.
			continue
		}
		if data.highest >= 0 && uint64(data.highest) >= e.config.Size {
			rep.problems = append(rep.problems, fmt.Sprintf(
				"filter %q: bit %d is set but the filter has %d bits", name, data.highest, e.config.Size))
		}
	}
}

// filterName returns the filter name for a config key of the form
// "{name}:config".
func filterName(configKey string) (string, bool) {
	rest, ok := strings.CutPrefix(configKey, "{")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "}:config")
	if !ok {
		return "", false
	}
	return name, true
}

func (rep *report) print(w io.Writer, verbose bool) {
	byKey := make(map[string]entry, len(rep.entries))
	for _, e := range rep.entries {
		byKey[e.key] = e
	}

	if verbose {
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, k := range keys {
			e := byKey[k]
			switch {
			case e.config != nil:
				fmt.Fprintf(w, "  [shard %3d] %s [BloomConfig] (Size:%d, K:%d, Capacity:%d, P:%g)\n",
					e.shard, k, e.config.Size, e.config.HashIterations, e.config.ExpectedInsertions, e.config.FalseProbability)
			case e.cfgErr != nil:
				fmt.Fprintf(w, "  [shard %3d] %s [CorruptConfig] (%v)\n", e.shard, k, e.cfgErr)
			default:
				fmt.Fprintf(w, "  [shard %3d] %s [Raw] (Len:%d, Bits:%d)\n", e.shard, k, e.size, e.setBits)
			}
		}
	}

	fmt.Fprintln(w, "\nSummary:")
	if rep.snapshot {
		fmt.Fprintf(w, "  Snapshot:     OK, %d keys\n", len(rep.entries))
	} else {
		fmt.Fprintln(w, "  Snapshot:     none (text-only journal)")
	}
	fmt.Fprintf(w, "  Text Tail:    %d commands\n", rep.tail)

	commands := make([]string, 0, len(rep.commands))
	for c := range rep.commands {
		commands = append(commands, c)
	}
	slices.Sort(commands)
	for _, c := range commands {
		fmt.Fprintf(w, "    %d\t%s\n", rep.commands[c], c)
	}

	for _, e := range rep.entries {
		if e.config == nil {
			continue
		}
		name, _ := filterName(e.key)
		set := byKey[name].setBits
		fmt.Fprintf(w, "  Filter %q: %d/%d bits set, ~%d items\n",
			name, set, e.config.Size, bloom.EstimateCount(e.config.Size, e.config.HashIterations, set))
	}

	for _, p := range rep.problems {
		fmt.Fprintf(w, "  PROBLEM: %s\n", p)
	}
}
