package main

import (
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one line", firstLine("one line"))
	assert.Equal(t, "first", firstLine("first\nsecond"))

	long := strings.Repeat("x", 100)
	got := firstLine(long)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 72)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	set := flag.NewFlagSet("test", 0)
	set.String("log-level", "banana", "")
	err := setupLogger(cli.NewContext(nil, set, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestSetupLoggerAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		set := flag.NewFlagSet("test", 0)
		set.String("log-level", level, "")
		require.NoError(t, setupLogger(cli.NewContext(nil, set, nil)))
	}
}
