package expiring

import (
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
)

const (
	// DefaultExpirationLength is the expiration length used when none is configured.
	DefaultExpirationLength = 12 * time.Hour

	forwardSuffix = "-expires-at"
	inverseSuffix = "-expires-at-inverse"
)

// Options configures an expiring tree. They are fixed when the tree is opened.
type Options struct {
	// ExtendOnUpdate refreshes the expiry of a key on every write that leaves it present
	// (Insert, UpdateAndFetch, FetchAndUpdate, CompareAndSwap, batches).
	ExtendOnUpdate bool
	// ExtendOnFetch refreshes the expiry of a key whenever it is read (Get, GetLt, GetGt and
	// every entry yielded by an iterator).
	ExtendOnFetch bool
	// ExpirationLength is added to the current time to compute an expiry. 0 expires keys
	// immediately. Negative values are rejected.
	ExpirationLength time.Duration
	// MetadataFormat is the codec used for the expiry metadata (timestamps and key sets),
	// independent of the value codec ("" = codec.FormatBinary).
	MetadataFormat codec.Format
	// Now returns the current time (nil = time.Now). Tests use it to control the clock.
	Now func() time.Time
}

// DefaultOptions returns options that track no expiry until a refresh policy is enabled,
// with an expiration length of 12 hours and binary metadata.
func DefaultOptions() *Options {
	return &Options{
		ExpirationLength: DefaultExpirationLength,
		MetadataFormat:   codec.FormatBinary,
		Now:              time.Now,
	}
}

// ForwardTreeName returns the name of the tree mapping keys to their expiry.
func ForwardTreeName(name string) string { return name + forwardSuffix }

// InverseTreeName returns the name of the tree mapping expiry timestamps to key sets.
func InverseTreeName(name string) string { return name + inverseSuffix }
