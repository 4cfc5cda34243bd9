package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAIModel)
	assert.False(t, cfg.HasOpenAI())
	assert.Error(t, cfg.RequireBot())
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routinetimer.yaml")
	content := `
data_dir: /var/lib/routinetimer
tick_interval: 250ms
settle_delay: 0s
bot_token: "123456789:abcdef"
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader().LoadFromFile(path)

	require.NoError(t, err)
	assert.Equal(t, "/var/lib/routinetimer", cfg.DataDir)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Zero(t, cfg.SettleDelay)
	assert.True(t, cfg.Debug)
	assert.NoError(t, cfg.RequireBot())
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routinetimer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\n"), 0644))
	t.Setenv("ROUTINETIMER_DATA_DIR", "/from/env")

	cfg, err := NewLoader().LoadFromFile(path)

	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
}

func TestLoader_LoadFromFile_NonExistent(t *testing.T) {
	_, err := NewLoader().LoadFromFile("/nonexistent/path/routinetimer.yaml")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoader_RejectsBadTickInterval(t *testing.T) {
	t.Setenv("ROUTINETIMER_TICK_INTERVAL", "0s")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Config{BotToken: "123456789:abcdef", OpenAIAPIKey: "short"}
	red := cfg.Redacted()

	assert.Equal(t, "12345678...REDACTED...", red.BotToken)
	assert.Equal(t, "...REDACTED...", red.OpenAIAPIKey)
	assert.Equal(t, "123456789:abcdef", cfg.BotToken, "original untouched")
}
