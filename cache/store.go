package cache

import "errors"

// Default capacity bounds, in bytes.
const (
	// DefaultMaxCacheSize is the default byte budget for the whole store.
	DefaultMaxCacheSize = 1049000
	// DefaultMaxObjectSize is the default ceiling for a single object.
	DefaultMaxObjectSize = 102400
)

var (
	// ErrTooLarge is returned by Insert when the payload alone exceeds
	// the per-object or whole-cache size bound. The store is left untouched.
	ErrTooLarge = errors.New("cache: object exceeds size bound")
	// ErrClosed is returned for mutations after Teardown.
	ErrClosed = errors.New("cache: store is closed")
)

// ObjectStore is the storage contract for cached response objects,
// keyed by request URI. Every Lookup is an aging tick: the idle counter
// of each live entry is incremented, and the matched entry (if any) is
// reset to zero, ranking entries by recency without timestamps.
//
// Implementations must be thread-safe: any number of concurrent
// Lookups may proceed together, while Insert and Teardown are
// exclusive against everything else.
type ObjectStore interface {
	// Lookup returns the payload stored under uri and whether it was
	// found. The returned slice is the caller's to keep.
	// A lookup on an empty or torn-down store always misses.
	Lookup(uri string) ([]byte, bool)
	// Insert stores payload under uri, evicting entries as needed to
	// keep the total size within budget. An existing entry under the
	// same uri is replaced. Payloads that can never fit are rejected
	// with ErrTooLarge.
	Insert(uri string, payload []byte) error
	// Size is the sum of all live payload lengths in bytes.
	Size() int64
	// Len is the number of live entries.
	Len() int
	// Teardown releases all entries. No operation is valid afterwards.
	Teardown() error
}
