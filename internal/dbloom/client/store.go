package client

import (
	"context"
	"fmt"
	"strconv"

	"dbloom.lopezb.com/internal/dbloom/resp"
)

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.Type != resp.TypeSimpleString || reply.Str != "PONG" {
		return fmt.Errorf("%w: PING answered %q", ErrUnexpectedReply, reply.Str)
	}
	return nil
}

// SetBits sets every position to 1 with one BITS.SET command and returns the
// previous value of each bit. At most MaxBatchPositions positions fit in one
// command.
func (c *Client) SetBits(ctx context.Context, key string, positions []uint64) ([]bool, error) {
	if len(positions) == 0 {
		return []bool{}, nil
	}
	if len(positions) > MaxBatchPositions {
		return nil, fmt.Errorf("%w: BITS.SET got %d", ErrBatchTooLarge, len(positions))
	}
	reply, err := c.Do(ctx, "BITS.SET", positionArgs(key, positions)...)
	if err != nil {
		return nil, err
	}
	return boolArray("BITS.SET", reply, len(positions))
}

// GetBits reads every position with one BITS.GET command.
func (c *Client) GetBits(ctx context.Context, key string, positions []uint64) ([]bool, error) {
	if len(positions) == 0 {
		return []bool{}, nil
	}
	if len(positions) > MaxBatchPositions {
		return nil, fmt.Errorf("%w: BITS.GET got %d", ErrBatchTooLarge, len(positions))
	}
	reply, err := c.Do(ctx, "BITS.GET", positionArgs(key, positions)...)
	if err != nil {
		return nil, err
	}
	return boolArray("BITS.GET", reply, len(positions))
}

// CountBits returns the number of set bits under key.
func (c *Client) CountBits(ctx context.Context, key string) (uint64, error) {
	reply, err := c.Do(ctx, "BITCOUNT", key)
	if err != nil {
		return 0, err
	}
	if reply.Type != resp.TypeInteger || reply.Int < 0 {
		return 0, fmt.Errorf("%w: BITCOUNT", ErrUnexpectedReply)
	}
	return uint64(reply.Int), nil
}

// PublishIfAbsent stores record under key with SETNX.
func (c *Client) PublishIfAbsent(ctx context.Context, key string, record []byte) (bool, error) {
	reply, err := c.Do(ctx, "SETNX", key, string(record))
	if err != nil {
		return false, err
	}
	if reply.Type != resp.TypeInteger {
		return false, fmt.Errorf("%w: SETNX", ErrUnexpectedReply)
	}
	return reply.Int == 1, nil
}

// ReadRecord returns the value under key with GET.
func (c *Client) ReadRecord(ctx context.Context, key string) ([]byte, bool, error) {
	reply, err := c.Do(ctx, "GET", key)
	if err != nil {
		return nil, false, err
	}
	if reply.Type != resp.TypeBulkString {
		return nil, false, fmt.Errorf("%w: GET", ErrUnexpectedReply)
	}
	if reply.Nil {
		return nil, false, nil
	}
	return []byte(reply.Str), true, nil
}

// Delete removes keys with DEL and returns how many existed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	reply, err := c.Do(ctx, "DEL", keys...)
	if err != nil {
		return 0, err
	}
	if reply.Type != resp.TypeInteger {
		return 0, fmt.Errorf("%w: DEL", ErrUnexpectedReply)
	}
	return int(reply.Int), nil
}

func positionArgs(key string, positions []uint64) []string {
	args := make([]string, 0, len(positions)+1)
	args = append(args, key)
	for _, pos := range positions {
		args = append(args, strconv.FormatUint(pos, 10))
	}
	return args
}

func boolArray(command string, reply resp.Reply, want int) ([]bool, error) {
	if reply.Type != resp.TypeArray || len(reply.Elems) != want {
		return nil, fmt.Errorf("%w: %s returned %d elements for %d positions", ErrUnexpectedReply, command, len(reply.Elems), want)
	}
	result := make([]bool, want)
	for i, elem := range reply.Elems {
		if elem.Type != resp.TypeInteger {
			return nil, fmt.Errorf("%w: %s element %d is not an integer", ErrUnexpectedReply, command, i)
		}
		result[i] = elem.Int == 1
	}
	return result, nil
}
