package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTypes(t *testing.T) {
	wrapped := fmt.Errorf("confirming update: %w", NewMismatchErrorf("sn %d does not match %d", 3, 4))
	assert.True(t, IsMismatchError(wrapped))
	assert.False(t, IsTimeoutError(wrapped))

	dup := NewDuplicityErrorf("EAid", "witness %s reports %s", "BWit", "EX")
	assert.True(t, IsDuplicityError(fmt.Errorf("sweep: %w", dup)))
	assert.Contains(t, dup.Error(), "EAid")

	assert.True(t, IsValidationError(NewValidationError(fmt.Errorf("bad member"))))
	assert.True(t, IsAuthenticationError(NewAuthenticationErrorf("wrong passcode")))
	assert.True(t, IsTimeoutError(NewTimeoutErrorf("witness %s silent", "BWit")))
	assert.True(t, IsOperationInProgressError(fmt.Errorf("rotate: %w", OperationInProgressError{Prefix: "EAid"})))
}
