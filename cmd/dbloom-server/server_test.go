package main

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dbloom.lopezb.com/internal/dbloom/resp"
)

// newTestApp creates an in-memory application listening on a random port.
func newTestApp(t *testing.T) *application {
	t.Helper()
	return newTestAppWithConfig(t, config{maxConnections: 10, bfCapacity: 1000, bfErrorRate: 0.01})
}

func newTestAppWithConfig(t *testing.T, cfg config) *application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := newApplication(cfg, logger)
	app.readyCh = make(chan struct{})
	return app
}

// startTestServer runs app.serve in the background and returns a connected
// client. The listener and the connection are closed when the test ends.
func startTestServer(t *testing.T, app *application) *testConn {
	t.Helper()

	go func() { _ = app.serve() }()
	<-app.readyCh
	t.Cleanup(func() { _ = app.listener.Close() })

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &testConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

type testConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// send writes an inline command and returns the first reply line.
func (c *testConn) send(cmd string) string {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.t.Fatalf("failed to write command %q: %v", cmd, err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("failed to read response for %q: %v", cmd, err)
	}
	return line
}

// do writes a RESP command and returns the parsed reply.
func (c *testConn) do(command string, args ...string) resp.Reply {
	c.t.Helper()
	if _, err := c.conn.Write(resp.EncodeCommand(command, args)); err != nil {
		c.t.Fatalf("failed to write command %s: %v", command, err)
	}
	reply, err := resp.NewParserFromReader(c.reader).ReadReply()
	if err != nil {
		c.t.Fatalf("failed to read reply for %s: %v", command, err)
	}
	return reply
}

func ints(r resp.Reply) []int64 {
	out := make([]int64, len(r.Elems))
	for i, e := range r.Elems {
		out[i] = e.Int
	}
	return out
}

func TestPingServer(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("PING"); got != "+PONG\r\n" {
		t.Errorf("unexpected response: got %q, want %q", got, "+PONG\r\n")
	}

	if got := c.send("PING extra"); got != "-ERR wrong number of arguments for 'PING' command\r\n" {
		t.Errorf("unexpected response: got %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("nosuch a b"); got != "-ERR unknown command 'NOSUCH'\r\n" {
		t.Errorf("unexpected response: got %q", got)
	}
}

func TestCommandsAreCaseInsensitive(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	if got := c.send("ping"); got != "+PONG\r\n" {
		t.Errorf("got %q, want +PONG", got)
	}
	if got := c.send("setnx k v"); got != ":1\r\n" {
		t.Errorf("got %q, want :1", got)
	}
}

func TestConnectionLimiter(t *testing.T) {
	app := newTestAppWithConfig(t, config{maxConnections: 1})

	hog := startTestServer(t, app)
	// Make sure the first connection holds the only slot.
	if got := hog.send("PING"); got != "+PONG\r\n" {
		t.Fatalf("first connection: got %q", got)
	}

	second, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("second connection dial failed unexpectedly: %v", err)
	}
	defer func() { _ = second.Close() }()

	reply, err := resp.NewParser(second).ReadReply()
	if err != nil {
		t.Fatalf("failed to read from second connection: %v", err)
	}
	if reply.Type != resp.TypeError || reply.Str != "ERR max number of clients reached" {
		t.Errorf("unexpected response from rejected connection: %+v", reply)
	}
}

func TestPipelinedCommands(t *testing.T) {
	c := startTestServer(t, newTestApp(t))

	var pipeline bytes.Buffer
	pipeline.Write(resp.EncodeCommand("SETBIT", []string{"bits", "7", "1"}))
	pipeline.Write(resp.EncodeCommand("GETBIT", []string{"bits", "7"}))
	pipeline.Write(resp.EncodeCommand("BITCOUNT", []string{"bits"}))

	if _, err := c.conn.Write(pipeline.Bytes()); err != nil {
		t.Fatalf("failed to write pipeline: %v", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	want := []string{":0\r\n", ":1\r\n", ":1\r\n"}
	for i, w := range want {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reply %d: %v", i, err)
		}
		if line != w {
			t.Errorf("reply %d: got %q, want %q", i, line, w)
		}
	}
}

func TestInfo(t *testing.T) {
	app := newTestApp(t)
	c := startTestServer(t, app)

	c.send("SET a 1")
	c.send("SET b 2")

	reply := c.do("INFO")
	if reply.Type != resp.TypeBulkString {
		t.Fatalf("expected bulk string, got %+v", reply)
	}

	for _, field := range []string{"# Server", "connections_active:1", "aof_enabled:0", "keys:2"} {
		if !strings.Contains(reply.Str, field) {
			t.Errorf("INFO missing %q:\n%s", field, reply.Str)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	c := startTestServer(t, app)

	c.send("PING")
	c.send("BF.ADD f x")
	c.send("NOSUCH")

	srv := httptest.NewServer(app.metrics.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		`dbloom_commands_total{command="PING"} 1`,
		`dbloom_commands_total{command="BF.ADD"} 1`,
		`dbloom_commands_total{command="unknown"} 1`,
		`dbloom_connections_active 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
