package main

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

func TestBFReserve(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("BF.RESERVE f 0.01 1000"); got != "+OK\r\n" {
		t.Fatalf("got %q, want +OK", got)
	}
	if got := c.send("BF.RESERVE f 0.001 5"); got != "-ERR item exists\r\n" {
		t.Errorf("second reserve: got %q", got)
	}

	t.Run("invalid parameters", func(t *testing.T) {
		for cmd, want := range map[string]string{
			"BF.RESERVE g abc 10":  "-" + msgNotFloat + "\r\n",
			"BF.RESERVE g 0.1 -10": "-" + msgNotInteger + "\r\n",
			"BF.RESERVE g 0.1":     "-ERR wrong number of arguments for 'BF.RESERVE' command\r\n",
		} {
			if got := c.send(cmd); got != want {
				t.Errorf("%s: got %q, want %q", cmd, got, want)
			}
		}

		for _, cmd := range []string{"BF.RESERVE g 0 10", "BF.RESERVE g 1 10", "BF.RESERVE g 0.1 0"} {
			parts := strings.Fields(cmd)
			reply := c.do(parts[0], parts[1:]...)
			if reply.Type != resp.TypeError {
				t.Errorf("%s: expected an error, got %+v", cmd, reply)
			}
		}
		if got := c.send("EXISTS {g}:config"); got != ":0\r\n" {
			t.Errorf("invalid reserve left a config record behind: %q", got)
		}
	})
}

func TestBFAddExists(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("BF.EXISTS f apple"); got != ":0\r\n" {
		t.Errorf("missing filter: got %q, want :0", got)
	}

	if got := c.send("BF.ADD f apple"); got != ":1\r\n" {
		t.Errorf("first add: got %q, want :1", got)
	}
	if got := c.send("BF.ADD f apple"); got != ":0\r\n" {
		t.Errorf("second add: got %q, want :0", got)
	}
	if got := c.send("BF.EXISTS f apple"); got != ":1\r\n" {
		t.Errorf("exists: got %q, want :1", got)
	}

	// BF.ADD created the filter with the server defaults.
	if got := c.send("EXISTS {f}:config"); got != ":1\r\n" {
		t.Errorf("config record missing: %q", got)
	}
}

func TestBFMAdd(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	reply := c.do("BF.MADD", "f", "a", "b", "a")
	if want := []int64{1, 1, 0}; !slices.Equal(ints(reply), want) {
		t.Errorf("BF.MADD: got %v, want %v", ints(reply), want)
	}

	reply = c.do("BF.MEXISTS", "f", "a", "b", "c")
	if got := ints(reply); got[0] != 1 || got[1] != 1 {
		t.Errorf("BF.MEXISTS: added items must be present, got %v", got)
	}

	reply = c.do("BF.MEXISTS", "missing", "a", "b")
	if want := []int64{0, 0}; !slices.Equal(ints(reply), want) {
		t.Errorf("BF.MEXISTS on missing filter: got %v, want %v", ints(reply), want)
	}
}

func TestBFCardAndInfo(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("BF.CARD f"); got != ":0\r\n" {
		t.Errorf("missing filter: got %q, want :0", got)
	}
	if got := c.send("BF.INFO f"); got != "-ERR not found\r\n" {
		t.Errorf("missing filter: got %q", got)
	}

	c.send("BF.RESERVE f 0.01 1000")

	args := []string{"f"}
	for i := range 100 {
		args = append(args, fmt.Sprintf("item-%d", i))
	}
	c.do("BF.MADD", args...)

	card := c.do("BF.CARD", "f")
	if card.Int < 90 || card.Int > 110 {
		t.Errorf("BF.CARD: got %d, want about 100", card.Int)
	}

	info := c.do("BF.INFO", "f")
	if info.Type != resp.TypeArray || len(info.Elems) != 10 {
		t.Fatalf("BF.INFO: unexpected reply %+v", info)
	}
	fields := map[string]resp.Reply{}
	for i := 0; i < len(info.Elems); i += 2 {
		fields[info.Elems[i].Str] = info.Elems[i+1]
	}
	if fields["Capacity"].Int != 1000 {
		t.Errorf("Capacity: got %d", fields["Capacity"].Int)
	}
	if fields["Size"].Int != 9586 {
		t.Errorf("Size: got %d, want 9586", fields["Size"].Int)
	}
	if fields["Number of hash functions"].Int != 7 {
		t.Errorf("hash functions: got %d, want 7", fields["Number of hash functions"].Int)
	}
	if fields["Error rate"].Str != "0.01" {
		t.Errorf("Error rate: got %q", fields["Error rate"].Str)
	}
	if fields["Number of items inserted"].Int != card.Int {
		t.Errorf("items inserted %d differs from BF.CARD %d", fields["Number of items inserted"].Int, card.Int)
	}
}

func TestBFCorruptConfig(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	c.do("SET", bloom.ConfigKey("f"), "not a config record")

	if got := c.send("BF.ADD f x"); got != "-"+msgWrongType+"\r\n" {
		t.Errorf("got %q, want WRONGTYPE", got)
	}
}

// TestBFSharedLayout checks that a filter built with BF.* commands reads the
// same through the plain bit commands a remote client uses.
func TestBFSharedLayout(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	c.send("BF.RESERVE f 0.01 1000")
	c.send("BF.ADD f apple")

	cfg, err := bloom.NewConfig(1000, 0.01)
	if err != nil {
		t.Fatal(err)
	}

	args := []string{"f"}
	for pos := range bloom.Positions([]byte("apple"), cfg.Size, cfg.HashIterations) {
		args = append(args, fmt.Sprint(pos))
	}

	reply := c.do("BITS.GET", args...)
	for i, bit := range ints(reply) {
		if bit != 1 {
			t.Errorf("position %s is not set", args[i+1])
		}
	}

	record := c.do("GET", bloom.ConfigKey("f"))
	var stored bloom.Config
	if err := stored.UnmarshalBinary([]byte(record.Str)); err != nil {
		t.Fatalf("config record does not decode: %v", err)
	}
	if stored != cfg {
		t.Errorf("stored config %+v, want %+v", stored, cfg)
	}
}
