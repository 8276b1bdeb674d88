package main

import (
	"bufio"
	"bytes"
	"os"
	"sync"
)

// AOF is the journal file handle. Appends go to a buffer under mu; the
// maintenance loop pushes them to disk with Fsync once per second.
type AOF struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	// rewriteBuf is non-nil while a compaction runs. It receives a copy of
	// every append so the new journal does not miss them.
	rewriteBuf *bytes.Buffer
}

func NewAOF(path string) (*AOF, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}

	return &AOF{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Write appends data to the buffer. It reaches the kernel when the buffer
// fills or on the next Fsync.
func (aof *AOF) Write(data []byte) error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if aof.rewriteBuf != nil {
		aof.rewriteBuf.Write(data)
	}
	_, err := aof.writer.Write(data)
	return err
}

func (aof *AOF) Close() error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if err := aof.writer.Flush(); err != nil {
		return err
	}
	return aof.file.Close()
}

// Fsync flushes the buffer and forces the file to stable storage.
func (aof *AOF) Fsync() error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if err := aof.writer.Flush(); err != nil {
		return err
	}
	return aof.file.Sync()
}

// Size returns the current size of the journal file.
func (aof *AOF) Size() (int64, error) {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	stat, err := aof.file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}
