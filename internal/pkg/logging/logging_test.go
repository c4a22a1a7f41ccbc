package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/config"
)

func TestNew_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("blob_id", "x").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "x", entry["blob_id"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNew_Console(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "bogus", Format: "console"}, &buf)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
