// Package resp implements the subset of the REdis Serialization Protocol that
// dbloom speaks on the wire: request parsing for the server, reply parsing for
// the client, and the encoders for both directions.
//
// Why RESP?
// =========
//
// Ecosystem Compatibility: a RESP server works with redis-cli and
// redis-benchmark out of the box, which makes a shared filter easy to inspect
// by hand.
//
// Binary Safety: every bulk string is length prefixed, so bit arrays and
// binary config records travel without escaping.
//
// Security Hardening
// ==================
//
// The parser is hardened against three denial-of-service vectors:
//
// Bulk String Attack: "$999999999\r\n" forcing a huge allocation. Mitigated by
// MaxBulkLength before allocating.
//
// Array Count Attack: "*999999999\r\n" forcing a huge slice. Mitigated by
// MaxArrayLen before allocating.
//
// Infinite Line Attack: bytes without '\n' causing unbounded buffering.
// Mitigated by MaxLineSize in readLine.
package resp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// Protocol limits to prevent denial-of-service attacks.
// These values match Redis defaults.
const (
	// MaxBulkLength limits bulk string size to 512MB.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLen limits the number of elements in a RESP array.
	MaxArrayLen = 1 << 20

	// MaxLineSize limits header/inline command line length.
	MaxLineSize = 64 * 1024
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 512MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

type Parser struct {
	reader *bufio.Reader
}

func NewParser(conn io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(conn, 4096),
	}
}

// NewParserFromReader wraps an existing buffered reader without adding a
// second buffer. Journal replay relies on this: the snapshot loader and the
// command parser must share one cursor into the file.
func NewParserFromReader(r *bufio.Reader) *Parser {
	return &Parser{reader: r}
}

// Parse reads a single command from the connection.
//
// Supports two RESP formats:
//   - Inline commands: "PING\r\n" or "SETBIT key 7 1\r\n"
//   - RESP arrays: "*1\r\n$4\r\nPING\r\n"
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}

	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}

	if line[0] == '*' {
		return p.parseRESPArray(line)
	}

	return p.parseInline(line)
}

// Buffered returns the number of bytes buffered in the reader.
// The server uses it to detect pipelined commands and delay flushing until
// the buffer is drained.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

// readLine reads bytes until '\n', enforcing MaxLineSize.
func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}

	if !isPrefix {
		return line, nil
	}

	// Slow path: line exceeded buffer, accumulate chunks with size limit.
	var buf bytes.Buffer
	buf.Write(line)

	for isPrefix {
		line, isPrefix, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}

	return buf.Bytes(), nil
}

// parseInline parses a space-separated inline command.
func (p *Parser) parseInline(line []byte) ([]string, error) {
	parts := bytes.Fields(line)
	if len(parts) == 0 {
		return nil, ErrInvalidSyntax
	}

	result := make([]string, len(parts))
	for i, part := range parts {
		result[i] = string(part)
	}

	return result, nil
}

// parseRESPArray parses *<count>\r\n$<len>\r\n<data>\r\n...
func (p *Parser) parseRESPArray(header []byte) ([]string, error) {
	count, err := parseLength(header)
	if err != nil {
		return nil, err
	}

	// Null arrays (*-1) and empty arrays (*0).
	if count <= 0 {
		return []string{}, nil
	}
	if count > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	command := make([]string, 0, count)
	for i := 0; i < count; i++ {
		line, err := p.readLine()
		if err != nil {
			return nil, truncated(err)
		}
		if len(line) == 0 || line[0] != '$' {
			return nil, ErrInvalidSyntax
		}

		str, _, err := p.readBulk(line)
		if err != nil {
			return nil, err
		}
		command = append(command, str)
	}

	return command, nil
}

// readBulk reads the payload of a bulk string whose "$<len>" header line has
// already been consumed. A null bulk string ($-1) returns isNil=true.
func (p *Parser) readBulk(header []byte) (s string, isNil bool, err error) {
	length, err := parseLength(header)
	if err != nil {
		return "", false, err
	}

	if length == -1 {
		return "", true, nil
	}
	if length < 0 {
		return "", false, ErrInvalidSyntax
	}
	if length > MaxBulkLength {
		return "", false, ErrBulkTooLarge
	}

	// Read data + trailing CRLF in one call.
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return "", false, truncated(err)
	}

	if buf[length] != '\r' || buf[length+1] != '\n' {
		return "", false, ErrInvalidSyntax
	}

	return string(buf[:length]), false, nil
}

// truncated converts io.EOF met in the middle of a message into
// io.ErrUnexpectedEOF. A clean io.EOF only ever means "no more messages".
func truncated(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// parseLength parses the integer following a one-byte type prefix.
func parseLength(line []byte) (int, error) {
	n, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return 0, ErrInvalidSyntax
	}
	return n, nil
}
