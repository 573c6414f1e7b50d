package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsClientWithTrimmedBaseURL(t *testing.T) {
	t.Parallel()
	c := New("  sk-ant-test  ", "https://example.test/v1/", nil)
	require.NotNil(t, c)
}

func TestNewDefaultsBaseURLWhenEmpty(t *testing.T) {
	t.Parallel()
	c := New("sk-ant-test", "", nil)
	require.NotNil(t, c)
}
