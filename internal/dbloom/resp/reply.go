package resp

import (
	"strconv"
	"strings"
)

// Reply type markers.
const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

// Reply is a decoded server reply.
type Reply struct {
	Type  byte
	Str   string  // simple string, error text or bulk payload
	Int   int64   // integer replies
	Nil   bool    // null bulk string or null array
	Elems []Reply // array elements
}

// Err returns the reply as an *Error if it is an error reply, and nil otherwise.
func (r Reply) Err() error {
	if r.Type != TypeError {
		return nil
	}
	return &Error{Message: r.Str}
}

// Error is an error reply sent by the server, e.g. "ERR unknown command".
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Prefix returns the error code, the first word of the message ("ERR",
// "WRONGTYPE", ...).
func (e *Error) Prefix() string {
	prefix, _, _ := strings.Cut(e.Message, " ")
	return prefix
}

// ReadReply reads one complete reply. Error replies are returned as a Reply
// of TypeError, not as a Go error; the error return is reserved for I/O and
// protocol failures, after which the connection must not be reused.
func (p *Parser) ReadReply() (Reply, error) {
	line, err := p.readLine()
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, ErrInvalidSyntax
	}

	switch line[0] {
	case TypeSimpleString, TypeError:
		return Reply{Type: line[0], Str: string(line[1:])}, nil

	case TypeInteger:
		n, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return Reply{}, ErrInvalidSyntax
		}
		return Reply{Type: TypeInteger, Int: n}, nil

	case TypeBulkString:
		s, isNil, err := p.readBulk(line)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: TypeBulkString, Str: s, Nil: isNil}, nil

	case TypeArray:
		count, err := parseLength(line)
		if err != nil {
			return Reply{}, err
		}
		if count < 0 {
			return Reply{Type: TypeArray, Nil: true}, nil
		}
		if count > MaxArrayLen {
			return Reply{}, ErrArrayTooLong
		}
		elems := make([]Reply, 0, count)
		for i := 0; i < count; i++ {
			elem, err := p.ReadReply()
			if err != nil {
				return Reply{}, truncated(err)
			}
			elems = append(elems, elem)
		}
		return Reply{Type: TypeArray, Elems: elems}, nil
	}

	return Reply{}, ErrInvalidSyntax
}
