package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLoggerWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := CreateLogger("expiring")
	l.Infof("refreshed %d keys", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "expiring", entry["cmp"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "refreshed 3 keys", entry["message"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := CreateLogger("db")
	l.Debugf("hidden")
	assert.Zero(t, buf.Len(), "debug messages must be dropped at level INFO")

	l.SetLevel(logger.DEBUG)
	l.Debugf("visible")
	assert.True(t, strings.Contains(buf.String(), "visible"))

	buf.Reset()
	l.SetLevel(logger.ERROR)
	l.Warningf("hidden")
	assert.Zero(t, buf.Len())
	l.Errorf("boom")
	assert.Contains(t, buf.String(), "boom")
}

func TestLoggerPanicf(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	assert.PanicsWithValue(t, "fatal 1", func() {
		CreateLogger("cmd").Panicf("fatal %d", 1)
	})
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("verbose"))
}

func TestInitLoggersTwice(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	require.NoError(t, InitLoggers("error"))
	require.NotPanics(t, func() {
		require.NoError(t, InitLoggers("warn"))
	})

	l := logger.GetLogger("cmd")
	l.Infof("hidden")
	assert.Zero(t, buf.Len(), "info messages must be dropped at level WARNING")

	l.Warningf("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), `"cmp":"cmd"`)
}
