package store

import "github.com/google/uuid"

// newID mints a fresh opaque identity via google/uuid. The store holds its
// document entirely in memory and has no database keys to derive ids from.
func newID() string {
	return uuid.NewString()
}
