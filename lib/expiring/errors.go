package expiring

import "fmt"

// BookkeepingError is returned when the data mutation of an operation committed but the
// following expiry metadata update failed. The data change is not rolled back; the expiry of
// Key may be stale until the next successful refresh or removal (see Tree.Refresh).
type BookkeepingError struct {
	Op  string // "refresh" or "remove"
	Key []byte
	Err error
}

func (e *BookkeepingError) Error() string {
	return fmt.Sprintf("expiring: %s metadata of key %q: %v", e.Op, e.Key, e.Err)
}

func (e *BookkeepingError) Unwrap() error {
	return e.Err
}
