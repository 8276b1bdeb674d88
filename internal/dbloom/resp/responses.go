package resp

import (
	"io"
	"strconv"
)

// Pre-allocated response buffers for the most frequent replies. Bloom and bit
// commands answer 0 or 1 almost exclusively.
var (
	respOK   = []byte("+OK\r\n")
	respPong = []byte("+PONG\r\n")
	respZero = []byte(":0\r\n")
	respOne  = []byte(":1\r\n")
	respNil  = []byte("$-1\r\n")
)

// WriteSimpleString writes +s\r\n.
func WriteSimpleString(w io.Writer, s string) error {
	if s == "OK" {
		_, err := w.Write(respOK)
		return err
	}
	if s == "PONG" {
		_, err := w.Write(respPong)
		return err
	}

	buf := make([]byte, 0, 1+len(s)+2)
	buf = append(buf, '+')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// WriteError writes -errStr\r\n.
func WriteError(w io.Writer, errStr string) error {
	buf := make([]byte, 0, 1+len(errStr)+2)
	buf = append(buf, '-')
	buf = append(buf, errStr...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// WriteBulkString writes s as a Bulk String.
func WriteBulkString(w io.Writer, s string) error {
	return WriteBulkBytes(w, []byte(s))
}

// WriteBulkBytes writes data as a Bulk String without converting it to a
// string first.
func WriteBulkBytes(w io.Writer, data []byte) error {
	buf := make([]byte, 0, 16+len(data))
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(data)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, data...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// WriteInteger writes :i\r\n.
func WriteInteger(w io.Writer, i int64) error {
	if i == 0 {
		_, err := w.Write(respZero)
		return err
	}
	if i == 1 {
		_, err := w.Write(respOne)
		return err
	}

	buf := make([]byte, 0, 24)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, i, 10)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

// WriteNil writes a Null Bulk String.
func WriteNil(w io.Writer) error {
	_, err := w.Write(respNil)
	return err
}

// WriteIntegerArray writes a RESP array of integers in a single Write call.
func WriteIntegerArray(w io.Writer, values []int64) error {
	// Header (~6 bytes) + per element (~4 bytes for 0/1).
	buf := make([]byte, 0, 6+len(values)*4)

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(values)), 10)
	buf = append(buf, '\r', '\n')

	for _, v := range values {
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, v, 10)
		buf = append(buf, '\r', '\n')
	}

	_, err := w.Write(buf)
	return err
}

// WriteBoolArray writes a RESP array of 0/1 integers.
func WriteBoolArray(w io.Writer, values []bool) error {
	buf := make([]byte, 0, 6+len(values)*4)

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(values)), 10)
	buf = append(buf, '\r', '\n')

	for _, v := range values {
		if v {
			buf = append(buf, ':', '1', '\r', '\n')
		} else {
			buf = append(buf, ':', '0', '\r', '\n')
		}
	}

	_, err := w.Write(buf)
	return err
}

// WriteArrayHeader writes *n\r\n. The caller writes the n elements after it.
func WriteArrayHeader(w io.Writer, n int) error {
	buf := make([]byte, 0, 16)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(n), 10)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}
