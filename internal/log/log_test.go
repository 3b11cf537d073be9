package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconfigure_WritesComponentAndService(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "bank"})
	t.Cleanup(func() { Reconfigure(Config{}) })

	l := WithComponent("servicebus")
	l.Debug().Str("event", "FundsTransferred").Msg("subscribed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "bank", entry["service"])
	require.Equal(t, "servicebus", entry["component"])
	require.Equal(t, "FundsTransferred", entry["event"])
	require.Equal(t, "debug", entry["level"])
}

func TestReconfigure_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Reconfigure(Config{}) })

	l := Base()
	l.Info().Msg("hidden")
	require.Zero(t, buf.Len())

	l.Warn().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}
