// Package client implements bloom.Store on top of a dbloom server reached
// over TCP with RESP.
//
// Connections are pooled and reused. The number of requests in flight is
// bounded by a weighted semaphore acquired with the caller's context, so a
// caller that cannot get a connection in time gives up with the context's
// error instead of queueing forever.
//
// Failure Model
// =============
//
// A request is one command and one reply on one connection. Any I/O or
// protocol error discards that connection; it is never returned to the pool.
// Requests are not retried: a retry after an ambiguous failure could apply a
// write twice, and the caller is better placed to decide.
//
// Cancelling the context of an in-flight request interrupts the connection.
// The server may still have applied the command; there is no rollback.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"dbloom.lopezb.com/internal/dbloom/bloom"
	"dbloom.lopezb.com/internal/dbloom/resp"
)

const (
	DefaultMaxConns    = 16
	DefaultDialTimeout = 5 * time.Second

	// MaxBatchPositions is the largest number of positions one BITS.SET or
	// BITS.GET may carry. The command name and the key take the other two
	// slots of the server's array limit.
	MaxBatchPositions = resp.MaxArrayLen - 2
)

var (
	// ErrClosed is returned by requests issued after Close.
	ErrClosed = errors.New("client: closed")

	// ErrUnexpectedReply is returned when the server answers with a reply of
	// the wrong type or shape for the command.
	ErrUnexpectedReply = errors.New("client: unexpected reply")

	// ErrBatchTooLarge is returned, without contacting the server, for a bit
	// request over MaxBatchPositions. It wraps bloom.ErrInvalidArgument so the
	// engine reports it as a caller error rather than a store outage.
	ErrBatchTooLarge = fmt.Errorf("%w: client: batch exceeds %d positions", bloom.ErrInvalidArgument, MaxBatchPositions)
)

// Client is a pooled connection to a dbloom server. It is safe for
// concurrent use.
type Client struct {
	addr        string
	dialTimeout time.Duration
	maxConns    int64
	logger      *slog.Logger

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*conn
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithMaxConns bounds the number of concurrent requests, and therefore
// connections, to n.
func WithMaxConns(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxConns = int64(n)
		}
	}
}

// WithDialTimeout bounds how long establishing a new connection may take.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a client for the server at addr. No connection is made until
// the first request.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:        addr,
		dialTimeout: DefaultDialTimeout,
		maxConns:    DefaultMaxConns,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sem = semaphore.NewWeighted(c.maxConns)
	return c
}

type conn struct {
	netConn net.Conn
	parser  *resp.Parser
	writer  *bufio.Writer
	buf     []byte
}

// Do sends one command and returns its reply. An error reply from the server
// is returned both as the Reply and as a *resp.Error.
func (c *Client) Do(ctx context.Context, command string, args ...string) (resp.Reply, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return resp.Reply{}, err
	}
	defer c.sem.Release(1)

	cn, err := c.get(ctx)
	if err != nil {
		return resp.Reply{}, err
	}

	reply, err := c.roundTrip(ctx, cn, command, args)
	if err != nil {
		c.logger.Debug("discarding connection", "address", c.addr, "command", command, "error", err)
		_ = cn.netConn.Close()
		return resp.Reply{}, fmt.Errorf("client: %s: %w", command, err)
	}

	c.put(cn)

	if err := reply.Err(); err != nil {
		return reply, err
	}
	return reply, nil
}

func (c *Client) roundTrip(ctx context.Context, cn *conn, command string, args []string) (resp.Reply, error) {
	deadline, _ := ctx.Deadline() // zero time clears any previous deadline
	if err := cn.netConn.SetDeadline(deadline); err != nil {
		return resp.Reply{}, err
	}

	// Cancellation forces pending I/O to fail immediately.
	stop := context.AfterFunc(ctx, func() {
		_ = cn.netConn.SetDeadline(time.Unix(1, 0))
	})

	reply, err := cn.exchange(command, args)
	if !stop() {
		// The cancellation fired and poisoned the deadline, even if the reply
		// made it through. The connection cannot be reused either way.
		return resp.Reply{}, ctx.Err()
	}
	if err != nil {
		return resp.Reply{}, contextError(ctx, err)
	}
	return reply, nil
}

func (cn *conn) exchange(command string, args []string) (resp.Reply, error) {
	cn.buf = resp.AppendCommand(cn.buf[:0], command, args)
	if _, err := cn.writer.Write(cn.buf); err != nil {
		return resp.Reply{}, err
	}
	if err := cn.writer.Flush(); err != nil {
		return resp.Reply{}, err
	}
	return cn.parser.ReadReply()
}

// contextError prefers the context's error over the I/O error it caused. The
// connection deadline can expire a moment before the context does, so a
// timeout past the context's deadline counts as the context's.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}

func (c *Client) get(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if n := len(c.idle); n > 0 {
		cn := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	return &conn{
		netConn: nc,
		parser:  resp.NewParser(nc),
		writer:  bufio.NewWriterSize(nc, 4096),
	}, nil
}

func (c *Client) put(cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || int64(len(c.idle)) >= c.maxConns {
		_ = cn.netConn.Close()
		return
	}
	c.idle = append(c.idle, cn)
}

// Close closes idle connections and fails all later requests. Requests in
// flight finish on their own connections, which are then closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var errs []error
	for _, cn := range c.idle {
		errs = append(errs, cn.netConn.Close())
	}
	c.idle = nil
	return errors.Join(errs...)
}
