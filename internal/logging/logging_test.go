package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("job", "drain-queue").Info("tick")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tick", line["msg"])
	assert.Equal(t, "drain-queue", line["job"])
}

func TestNew_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "logging:")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("discarded")
	assert.Equal(t, logrus.PanicLevel, l.Logger.GetLevel())
}

func TestInitSentry_EmptyDSN(t *testing.T) {
	flush, err := InitSentry(config.SentryConfig{}, "dev")
	require.NoError(t, err)
	flush()
	// Without a client, capture is a no-op.
	CaptureError(errors.New("x"), map[string]string{"job": "cleanup"})
	CaptureError(nil, nil)
}
