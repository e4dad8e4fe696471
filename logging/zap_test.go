package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapConfigFormatSelection(t *testing.T) {
	// Both spellings of the human-readable format get the console encoder.
	assert.Equal(t, "console", zapConfig("console").Encoding)
	assert.Equal(t, "console", zapConfig("text").Encoding)
	assert.Equal(t, "json", zapConfig("json").Encoding)
	assert.Equal(t, "json", zapConfig("").Encoding)
}

func TestNewZapLogger(t *testing.T) {
	for _, format := range []string{"json", "console", "text"} {
		logger, err := NewZapLogger(LogLevelDebug, format)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Debug("ready", "format", format)
	}
}
