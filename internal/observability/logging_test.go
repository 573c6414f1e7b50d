package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithTraceReturnsNonNilForNilContext(t *testing.T) {
	t.Parallel()
	l := LoggerWithTrace(nil) //nolint:staticcheck
	require.NotNil(t, l)
}

func TestLoggerWithTraceReturnsNonNilWithoutSpan(t *testing.T) {
	t.Parallel()
	l := LoggerWithTrace(context.Background())
	require.NotNil(t, l)
}

func TestInitLoggerMapsWarningToWarn(t *testing.T) {
	InitLogger("", "warning")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInitLoggerDefaultsToInfoOnUnknownLevel(t *testing.T) {
	InitLogger("", "not-a-real-level")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInitLoggerWritesToConfiguredFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	InitLogger(path, "info")

	log.Info().Msg("hello from test")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello from test")

	InitLogger("", "info")
}
