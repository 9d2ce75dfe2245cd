package olaverr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfDefaultsToInternalError(t *testing.T) {
	assert.Equal(t, InternalError, KindOf(errors.New("boom")))
}

func TestWrapPreservesKindOnDoubleWrap(t *testing.T) {
	err := New(Transient, "connection reset")
	wrapped := Wrap(Unreachable, err)
	assert.Equal(t, Transient, wrapped.Kind)
}

func TestIs(t *testing.T) {
	err := New(NotFound, "job %s not found", "J1")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
}
