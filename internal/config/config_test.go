package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RECURBOT_DB", "RECURBOT_WORKERS", "RECURBOT_POLL_SPEC", "RECURBOT_CORS_ORIGINS", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "recurbot.db", cfg.DatabasePath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "@every 30s", cfg.PollSpec)
	assert.Equal(t, 5*time.Minute, cfg.MaxLateness)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RECURBOT_DB", "/tmp/bot.db")
	t.Setenv("RECURBOT_WORKERS", "2")
	t.Setenv("RECURBOT_MAX_LATENESS", "90s")
	t.Setenv("RECURBOT_POLL_SPEC", "*/1 * * * *")
	t.Setenv("RECURBOT_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RECURBOT_DEBUG", "true")
	t.Setenv("RECURBOT_MISS_THRESHOLD", "not a number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bot.db", cfg.DatabasePath)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.MaxLateness)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 3, cfg.MissThreshold, "unparsable values fall back to the default")

	sc := cfg.Scheduler()
	assert.Equal(t, "*/1 * * * *", sc.PollSpec)
	assert.Equal(t, 90*time.Second, sc.MaxLateness)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabasePath: "x.db",
			Workers:      1,
			WorkerPoll:   time.Second,
			PollSpec:     "@every 30s",
			MaxLateness:  time.Minute,
			LogLevel:     "debug",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"no database", func(c *Config) { c.DatabasePath = "" }, ErrNoDatabase},
		{"no workers", func(c *Config) { c.Workers = 0 }, ErrWorkers},
		{"zero poll", func(c *Config) { c.WorkerPoll = 0 }, ErrDuration},
		{"negative lateness", func(c *Config) { c.MaxLateness = -time.Second }, ErrDuration},
		{"bad poll spec", func(c *Config) { c.PollSpec = "sometimes" }, nil},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
