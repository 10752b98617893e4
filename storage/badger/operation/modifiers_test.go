package operation

import (
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/storage"
)

func TestSkipDuplicates(t *testing.T) {
	duplicate := func(*badger.Txn) error { return fmt.Errorf("wrapped: %w", storage.ErrAlreadyExists) }
	assert.NoError(t, SkipDuplicates(duplicate)(nil))

	missing := func(*badger.Txn) error { return storage.ErrNotFound }
	assert.ErrorIs(t, SkipDuplicates(missing)(nil), storage.ErrNotFound)
}

func TestRetryOnConflict(t *testing.T) {
	calls := 0
	action := func(op func(*badger.Txn) error) error {
		calls++
		if calls < 3 {
			return badger.ErrConflict
		}
		return op(nil)
	}
	err := RetryOnConflict(action, func(*badger.Txn) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
