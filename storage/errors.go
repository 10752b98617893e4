package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned by every store for missing entries. The badger
	// implementation converts badger.ErrKeyNotFound into it.
	ErrNotFound = errors.New("key not found")

	ErrAlreadyExists = errors.New("key already exists")

	// ErrDataMismatch is returned when an entry exists with different content,
	// e.g. a different event at the same sequence number.
	ErrDataMismatch = errors.New("data for key is different")
)
