package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	buf := new(bytes.Buffer)

	logger, err := New("production", "", buf)
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("k", "v").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "v", line["k"])
	assert.Equal(t, "kidcanvas", line["service"])
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNew_DevelopmentDefaultsToDebug(t *testing.T) {
	buf := new(bytes.Buffer)

	logger, err := New("development", "", buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_Level(t *testing.T) {
	logger, err := New("production", "warn", new(bytes.Buffer))
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	_, err = New("production", "loud", new(bytes.Buffer))
	assert.Error(t, err)
}
