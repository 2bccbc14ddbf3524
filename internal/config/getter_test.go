package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvStr(t *testing.T) {
	t.Setenv("MIGRATOR_TEST_STR", "value")

	assert.Equal(t, "value", GetEnvStr("MIGRATOR_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnvStr("MIGRATOR_TEST_STR_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("MIGRATOR_TEST_INT", "42")
	t.Setenv("MIGRATOR_TEST_INT_BAD", "not-a-number")

	assert.Equal(t, 42, GetEnvInt("MIGRATOR_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("MIGRATOR_TEST_INT_BAD", 7))
	assert.Equal(t, 7, GetEnvInt("MIGRATOR_TEST_INT_MISSING", 7))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("MIGRATOR_TEST_BOOL_YES", "Yes")
	t.Setenv("MIGRATOR_TEST_BOOL_NO", "0")
	t.Setenv("MIGRATOR_TEST_BOOL_BAD", "sure")

	assert.True(t, GetEnvBool("MIGRATOR_TEST_BOOL_YES", false))
	assert.False(t, GetEnvBool("MIGRATOR_TEST_BOOL_NO", true))
	assert.True(t, GetEnvBool("MIGRATOR_TEST_BOOL_BAD", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("MIGRATOR_TEST_DUR", "90s")
	t.Setenv("MIGRATOR_TEST_DUR_BAD", "ninety")

	assert.Equal(t, 90*time.Second, GetEnvDuration("MIGRATOR_TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("MIGRATOR_TEST_DUR_BAD", time.Minute))
}

func TestGetEnvLogLevel(t *testing.T) {
	t.Setenv("MIGRATOR_TEST_LEVEL", "warn")

	assert.Equal(t, slog.LevelWarn, GetEnvLogLevel("MIGRATOR_TEST_LEVEL", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, GetEnvLogLevel("MIGRATOR_TEST_LEVEL_MISSING", slog.LevelInfo))
}

func TestParseCommaSeparatedList(t *testing.T) {
	assert.Empty(t, ParseCommaSeparatedList(""))
	assert.Equal(t, []string{"a", "b"}, ParseCommaSeparatedList("a, b,"))
}
