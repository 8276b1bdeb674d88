// Package dbloomtest provides an in-process RESP server for tests of code
// that talks to a dbloom server over the network.
//
// It serves the commands a remote filter needs (PING, GET, SETNX, DEL,
// BITCOUNT, BITS.SET, BITS.GET) from a kv.Store, and can be told to fail or
// stall to exercise client error paths.
package dbloomtest

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dbloom.lopezb.com/internal/dbloom/kv"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

// Server is a minimal dbloom server listening on a loopback port.
type Server struct {
	Store *kv.Store

	ln       net.Listener
	wg       sync.WaitGroup
	commands atomic.Int64
	conns    atomic.Int64

	mu    sync.Mutex
	fail  map[string]string
	delay time.Duration
}

// NewServer starts a server backed by a fresh store. It is closed when the
// test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("dbloomtest: listen: %v", err)
	}

	s := &Server{
		Store: kv.NewStore(),
		ln:    ln,
		fail:  make(map[string]string),
	}

	s.wg.Add(1)
	go s.accept()

	tb.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Commands returns the number of commands served so far.
func (s *Server) Commands() int64 {
	return s.commands.Load()
}

// Conns returns the number of connections accepted so far.
func (s *Server) Conns() int64 {
	return s.conns.Load()
}

// FailCommand makes every later call of command answer with the error reply
// msg. An empty msg clears the failure.
func (s *Server) FailCommand(command, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		delete(s.fail, strings.ToUpper(command))
		return
	}
	s.fail[strings.ToUpper(command)] = msg
}

// SetDelay makes the server wait d before answering each command.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Close stops accepting connections. Open connections end when their
// clients close them.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	parser := resp.NewParser(conn)
	w := bufio.NewWriter(conn)

	for {
		parts, err := parser.Parse()
		if err != nil || len(parts) == 0 {
			return
		}
		s.commands.Add(1)

		s.mu.Lock()
		failure := s.fail[strings.ToUpper(parts[0])]
		delay := s.delay
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if failure != "" {
			_ = resp.WriteError(w, failure)
		} else {
			s.dispatch(w, strings.ToUpper(parts[0]), parts[1:])
		}

		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(w *bufio.Writer, command string, args []string) {
	switch command {
	case "PING":
		_ = resp.WriteSimpleString(w, "PONG")

	case "GET":
		if len(args) != 1 {
			wrongArgs(w, command)
			return
		}
		value, ok := s.Store.Get(args[0])
		if !ok {
			_ = resp.WriteNil(w)
			return
		}
		_ = resp.WriteBulkBytes(w, value)

	case "SETNX":
		if len(args) != 2 {
			wrongArgs(w, command)
			return
		}
		_ = resp.WriteInteger(w, int64(boolInt(s.Store.SetNX(args[0], []byte(args[1])))))

	case "DEL":
		var n int64
		for _, key := range args {
			if s.Store.Delete(key) {
				n++
			}
		}
		_ = resp.WriteInteger(w, n)

	case "BITCOUNT":
		if len(args) != 1 {
			wrongArgs(w, command)
			return
		}
		_ = resp.WriteInteger(w, int64(s.Store.BitCount(args[0])))

	case "BITS.SET", "BITS.GET":
		if len(args) < 2 {
			wrongArgs(w, command)
			return
		}
		positions := make([]uint64, len(args)-1)
		for i, arg := range args[1:] {
			pos, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				_ = resp.WriteError(w, "ERR bit offset is not an integer or out of range")
				return
			}
			positions[i] = pos
		}

		var bits []bool
		var err error
		if command == "BITS.SET" {
			bits, err = s.Store.SetBits(args[0], positions)
		} else {
			bits, err = s.Store.GetBits(args[0], positions)
		}
		if errors.Is(err, kv.ErrBitOffset) {
			_ = resp.WriteError(w, "ERR bit offset is not an integer or out of range")
			return
		}
		_ = resp.WriteBoolArray(w, bits)

	default:
		_ = resp.WriteError(w, "ERR unknown command '"+command+"'")
	}
}

func wrongArgs(w *bufio.Writer, command string) {
	_ = resp.WriteError(w, "ERR wrong number of arguments for '"+command+"' command")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
