package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Formatting(t *testing.T) {
	s := Secret("https://hooks.slack.com/services/T000/B000/XXXX")
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, "https://hooks.slack.com/services/T000/B000/XXXX", s.Reveal())

	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, `""`, fmt.Sprintf("%#v", Secret("")))
}

func TestSecret_NeverLeaksThroughConfigDumps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerts.SlackWebhookURL = "https://hooks.example/secret-token"

	assert.NotContains(t, cfg.String(), "secret-token")
	assert.Contains(t, cfg.String(), "[REDACTED]")

	data, err := json.Marshal(cfg.Alerts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-token")
}
