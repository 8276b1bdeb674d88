package resp

import "strconv"

// EncodeCommand serializes a command and its arguments into a RESP Array of
// Bulk Strings. The same encoding is used by clients on the wire and by the
// server's append-only journal.
//
// Example:
//
//	Input:  "SETBIT", ["key", "7", "1"]
//	Output: "*4\r\n$6\r\nSETBIT\r\n$3\r\nkey\r\n$1\r\n7\r\n$1\r\n1\r\n"
func EncodeCommand(command string, args []string) []byte {
	return AppendCommand(nil, command, args)
}

// AppendCommand is EncodeCommand appending to dst.
func AppendCommand(dst []byte, command string, args []string) []byte {
	// Array header: 1 (the command itself) + the number of arguments.
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)+1), 10)
	dst = append(dst, '\r', '\n')

	dst = appendBulk(dst, command)
	for _, arg := range args {
		dst = appendBulk(dst, arg)
	}

	return dst
}

func appendBulk(dst []byte, s string) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, s...)
	dst = append(dst, '\r', '\n')
	return dst
}
