package bloom

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// ConfigMagic is the signature "BFCFG001". It is stored big endian so the
	// record starts with the readable ASCII bytes.
	ConfigMagic = 0x4246434647303031

	// ConfigRecordSize is the encoded size of a Config in bytes.
	// 8 (Magic) + 8 (Size) + 4 (HashIterations) + 8 (ExpectedInsertions) + 8 (FalseProbability)
	ConfigRecordSize = 36
)

// Config is the shared parameter record of a filter. It is written exactly
// once, by the TryInit call that wins the race, and never changes afterwards.
// A filter without a stored record is uninitialized; there is no partially
// initialized state.
//
// Record layout (fields after the magic are little endian):
//
//	+--------+--------+------------+------------+-------------+
//	| Magic  | Size   | Iterations | Expected   | Probability |
//	+--------+--------+------------+------------+-------------+
//	  8B       8B       4B           8B           8B (float64)
type Config struct {
	// Size is the number of bits in the filter (m).
	Size uint64
	// HashIterations is the number of positions derived per item (k).
	HashIterations uint32
	// ExpectedInsertions is the capacity the filter was sized for (n).
	ExpectedInsertions uint64
	// FalseProbability is the target false positive rate (p).
	FalseProbability float64
}

// NewConfig derives a Config from the expected insertions and false positive
// probability.
func NewConfig(expectedInsertions uint64, falseProbability float64) (Config, error) {
	size, k, err := OptimalParameters(expectedInsertions, falseProbability)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Size:               size,
		HashIterations:     k,
		ExpectedInsertions: expectedInsertions,
		FalseProbability:   falseProbability,
	}, nil
}

// MarshalBinary encodes the record in its persisted form.
func (c Config) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ConfigRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], ConfigMagic)
	binary.LittleEndian.PutUint64(buf[8:16], c.Size)
	binary.LittleEndian.PutUint32(buf[16:20], c.HashIterations)
	binary.LittleEndian.PutUint64(buf[20:28], c.ExpectedInsertions)
	binary.LittleEndian.PutUint64(buf[28:36], math.Float64bits(c.FalseProbability))
	return buf, nil
}

// UnmarshalBinary decodes a persisted record. Records that are truncated,
// carry the wrong signature or describe an unusable filter are rejected with
// ErrCorruptConfig.
func (c *Config) UnmarshalBinary(data []byte) error {
	if len(data) < ConfigRecordSize {
		return fmt.Errorf("%w: record is %d bytes, want %d", ErrCorruptConfig, len(data), ConfigRecordSize)
	}
	if binary.BigEndian.Uint64(data[0:8]) != ConfigMagic {
		return fmt.Errorf("%w: invalid magic number", ErrCorruptConfig)
	}

	cfg := Config{
		Size:               binary.LittleEndian.Uint64(data[8:16]),
		HashIterations:     binary.LittleEndian.Uint32(data[16:20]),
		ExpectedInsertions: binary.LittleEndian.Uint64(data[20:28]),
		FalseProbability:   math.Float64frombits(binary.LittleEndian.Uint64(data[28:36])),
	}
	if cfg.Size == 0 || cfg.HashIterations == 0 {
		return fmt.Errorf("%w: size and hash iterations must be non-zero", ErrCorruptConfig)
	}
	if cfg.Size > MaxSize {
		return fmt.Errorf("%w: size %d exceeds maximum %d", ErrCorruptConfig, cfg.Size, uint64(MaxSize))
	}

	*c = cfg
	return nil
}

// IsConfigRecord reports whether data starts with the config signature. It
// lets tools tell config records apart from bit arrays without decoding.
func IsConfigRecord(data []byte) bool {
	return len(data) >= ConfigRecordSize && binary.BigEndian.Uint64(data[0:8]) == ConfigMagic
}
