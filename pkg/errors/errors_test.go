package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasType(t *testing.T) {
	inner := New(ErrorTypeCapacity, "no free buffer and no pending dispatch")
	outer := fmt.Errorf("run: %w", Wrap(inner, ErrorTypeInternal, "acquire buffer"))

	assert.True(t, HasType(outer, ErrorTypeCapacity))
	assert.True(t, HasType(outer, ErrorTypeInternal))
	assert.False(t, HasType(outer, ErrorTypeDispatch))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeInternal))
}

func TestChainStopsAtFormattedWrap(t *testing.T) {
	base := fmt.Errorf("dial tcp: %w", fmt.Errorf("connection refused"))
	err := Wrap(base, ErrorTypeConnection, "open catalog")

	assert.Equal(t, []string{
		"connection: open catalog",
		"dial tcp: connection refused",
	}, Chain(err))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeConfig, "invalid").WithDetail("field", "parallelism")
	assert.Equal(t, "parallelism", err.Details["field"])
	assert.NotEmpty(t, err.Stack)
}
