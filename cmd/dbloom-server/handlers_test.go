package main

import (
	"slices"
	"testing"

	"dbloom.lopezb.com/internal/dbloom/resp"
)

func TestStringCommands(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	t.Run("set and get", func(t *testing.T) {
		if got := c.send("SET greeting hello"); got != "+OK\r\n" {
			t.Fatalf("SET: got %q", got)
		}
		reply := c.do("GET", "greeting")
		if reply.Type != resp.TypeBulkString || reply.Str != "hello" {
			t.Errorf("GET: got %+v", reply)
		}
	})

	t.Run("get missing key returns nil", func(t *testing.T) {
		if got := c.send("GET missing"); got != "$-1\r\n" {
			t.Errorf("got %q, want nil", got)
		}
	})

	t.Run("binary safe values", func(t *testing.T) {
		value := "\x00\xff\r\n\x80"
		c.do("SET", "bin", value)
		if reply := c.do("GET", "bin"); reply.Str != value {
			t.Errorf("GET: got %q, want %q", reply.Str, value)
		}
	})

	t.Run("setnx only creates", func(t *testing.T) {
		if got := c.send("SETNX once first"); got != ":1\r\n" {
			t.Fatalf("first SETNX: got %q", got)
		}
		if got := c.send("SETNX once second"); got != ":0\r\n" {
			t.Fatalf("second SETNX: got %q", got)
		}
		if reply := c.do("GET", "once"); reply.Str != "first" {
			t.Errorf("value was overwritten: %q", reply.Str)
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		for cmd, want := range map[string]string{
			"SET k":       "-ERR wrong number of arguments for 'SET' command\r\n",
			"GET":         "-ERR wrong number of arguments for 'GET' command\r\n",
			"SETNX a b c": "-ERR wrong number of arguments for 'SETNX' command\r\n",
		} {
			if got := c.send(cmd); got != want {
				t.Errorf("%s: got %q, want %q", cmd, got, want)
			}
		}
	})
}

func TestKeyCommands(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	c.send("SET a 1")
	c.send("SET b 2")

	if got := c.send("EXISTS a b a missing"); got != ":3\r\n" {
		t.Errorf("EXISTS: got %q, want :3", got)
	}
	if got := c.send("DEL a missing"); got != ":1\r\n" {
		t.Errorf("DEL: got %q, want :1", got)
	}
	if got := c.send("EXISTS a"); got != ":0\r\n" {
		t.Errorf("EXISTS after DEL: got %q, want :0", got)
	}
}

func TestMemoryUsage(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	c.send("SET key 12345")

	// len("key") + len("12345") + 72
	if got := c.send("MEMORY USAGE key"); got != ":80\r\n" {
		t.Errorf("got %q, want :80", got)
	}
	if got := c.send("MEMORY USAGE missing"); got != "$-1\r\n" {
		t.Errorf("got %q, want nil", got)
	}
	if got := c.send("MEMORY DOCTOR"); got != "-ERR unknown subcommand 'DOCTOR'. Try MEMORY USAGE <key>\r\n" {
		t.Errorf("got %q", got)
	}
}

func TestCompactWithoutPersistence(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("COMPACT"); got != "-ERR persistence is disabled, nothing to compact\r\n" {
		t.Errorf("got %q", got)
	}
}

func TestBitCommands(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	t.Run("setbit returns previous value", func(t *testing.T) {
		if got := c.send("SETBIT b 10 1"); got != ":0\r\n" {
			t.Errorf("got %q, want :0", got)
		}
		if got := c.send("SETBIT b 10 1"); got != ":1\r\n" {
			t.Errorf("got %q, want :1", got)
		}
		if got := c.send("SETBIT b 10 0"); got != ":1\r\n" {
			t.Errorf("got %q, want :1", got)
		}
		if got := c.send("GETBIT b 10"); got != ":0\r\n" {
			t.Errorf("got %q, want :0", got)
		}
	})

	t.Run("redis bit layout", func(t *testing.T) {
		c.send("SETBIT layout 0 1")
		c.send("SETBIT layout 9 1")
		reply := c.do("GET", "layout")
		if reply.Str != "\x80\x40" {
			t.Errorf("got %q, want %q", reply.Str, "\x80\x40")
		}
	})

	t.Run("bits.set is batched", func(t *testing.T) {
		reply := c.do("BITS.SET", "batch", "3", "100", "3", "7")
		if want := []int64{0, 0, 1, 0}; !slices.Equal(ints(reply), want) {
			t.Errorf("BITS.SET: got %v, want %v", ints(reply), want)
		}

		reply = c.do("BITS.GET", "batch", "3", "4", "100", "99999")
		if want := []int64{1, 0, 1, 0}; !slices.Equal(ints(reply), want) {
			t.Errorf("BITS.GET: got %v, want %v", ints(reply), want)
		}

		if got := c.send("BITCOUNT batch"); got != ":3\r\n" {
			t.Errorf("BITCOUNT: got %q, want :3", got)
		}
	})

	t.Run("missing key reads as zero", func(t *testing.T) {
		reply := c.do("BITS.GET", "nothing", "0", "1")
		if want := []int64{0, 0}; !slices.Equal(ints(reply), want) {
			t.Errorf("got %v, want %v", ints(reply), want)
		}
		if got := c.send("BITCOUNT nothing"); got != ":0\r\n" {
			t.Errorf("got %q, want :0", got)
		}
	})

	t.Run("invalid offsets leave the value untouched", func(t *testing.T) {
		for _, cmd := range []string{
			"SETBIT bad -1 1",
			"SETBIT bad 4294967296 1",
			"BITS.SET bad 1 2 x",
			"BITS.GET bad 4294967296",
		} {
			if got := c.send(cmd); got != "-"+msgBitOffset+"\r\n" {
				t.Errorf("%s: got %q", cmd, got)
			}
		}
		if got := c.send("EXISTS bad"); got != ":0\r\n" {
			t.Errorf("key was created by a rejected command: %q", got)
		}
	})

	t.Run("invalid bit value", func(t *testing.T) {
		if got := c.send("SETBIT b 1 2"); got != "-"+msgBitValue+"\r\n" {
			t.Errorf("got %q", got)
		}
	})
}
