package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTPStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("missing", nil), 404},
		{"invalid input", InvalidInput("bad", nil), 400},
		{"conflict", Conflict("version mismatch", nil), 409},
		{"transient", Transient("timeout", nil), 503},
		{"transient rate limited", Transient("provider rate limit exceeded", nil), 429},
		{"fatal", Fatal("corrupt", nil), 500},
		{"unclassified", errors.New("boom"), 500},
		{"nil-ish wrapped", fmt.Errorf("wrap: %w", NotFound("missing", nil)), 404},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.want, ClassifyHTTPStatus(c.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindNotFound, KindOf(NotFound("x", nil)))
	assert.Equal(t, KindTransient, KindOf(errors.New("connection reset by peer")))
	assert.Equal(t, KindFatal, KindOf(errors.New("unrelated failure")))
}

func TestWrapfPreservesKind(t *testing.T) {
	t.Parallel()
	original := Conflict("version mismatch", nil)
	wrapped := Wrapf(original, "putting session %s", "s1")
	assert.Equal(t, KindConflict, wrapped.Kind())
	assert.ErrorIs(t, wrapped, original)
}

func TestWrapfClassifiesTransientHeuristically(t *testing.T) {
	t.Parallel()
	wrapped := Wrapf(errors.New("dial tcp: i/o timeout"), "calling provider")
	assert.Equal(t, KindTransient, wrapped.Kind())
}

func TestWrapfDefaultsToFatal(t *testing.T) {
	t.Parallel()
	wrapped := Wrapf(errors.New("whatever"), "doing a thing")
	assert.Equal(t, KindFatal, wrapped.Kind())
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("root cause")
	err := NotFound("session not found", cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
}
