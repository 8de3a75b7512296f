package perr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := perr.Processing("frame decode failed", cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "frame decode failed")
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := perr.InvalidInput("message one", nil)
	b := perr.InvalidInput("message two", nil)
	assert.True(t, errors.Is(a, b))

	c := perr.Configuration("config issue", nil)
	assert.False(t, errors.Is(a, c))
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := perr.Processing("wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestPluginErrorIncludesName(t *testing.T) {
	err := perr.Plugin("normalize-gain", "hook panicked", nil)
	assert.Contains(t, err.Error(), "normalize-gain")
}
