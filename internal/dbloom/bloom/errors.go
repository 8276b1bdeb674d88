package bloom

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for parameters that can never describe a
	// valid filter, and by stores for requests they cannot carry (such as a
	// batch over a remote store's size limit). It is never reported as
	// ErrStoreUnavailable.
	ErrInvalidArgument = errors.New("bloom: invalid argument")

	// ErrNotInitialized is returned when a filter is used or its configuration
	// is read before a successful TryInit.
	ErrNotInitialized = errors.New("bloom: filter is not initialized")

	// ErrStoreUnavailable wraps every failure reported by the Store. The
	// underlying error stays reachable through errors.Is / errors.As.
	ErrStoreUnavailable = errors.New("bloom: store unavailable")

	// ErrCorruptConfig is returned when the persisted configuration record
	// cannot be decoded.
	ErrCorruptConfig = errors.New("bloom: corrupt config record")
)

// storeError tags err as a store failure unless it already is one or the
// store rejected the request as invalid.
func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, ErrInvalidArgument) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
