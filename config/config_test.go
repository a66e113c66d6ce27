package config_test // Use an external test package

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"podqueued/config"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("PODQUEUED_PORT", "")
		t.Setenv("PODQUEUED_MAX_RETRIES", "")
		t.Setenv("PODQUEUED_AUTH_ENABLE", "")
		t.Setenv("PODQUEUED_STAGE_TIMEOUT", "")
		t.Setenv("PODQUEUED_MAX_AUDIO_SIZE", "")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, "", cfg.RedisURL)
		assert.Equal(t, 15*time.Minute, cfg.StageTimeout)
		assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, 30*time.Second, cfg.RetryInitialDelay)
		assert.Equal(t, 30*time.Minute, cfg.RetryMaxDelay)
		assert.Equal(t, 2.0, cfg.RetryBackoffMultiple)
		assert.Equal(t, int64(500*1024*1024), cfg.MaxAudioSize)
		assert.Equal(t, 50, cfg.CompletedShown)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("PODQUEUED_PORT", "9999")
		t.Setenv("PODQUEUED_MAX_RETRIES", "5")
		t.Setenv("PODQUEUED_AUTH_ENABLE", "true")
		t.Setenv("PODQUEUED_AUTH_KEY", "newsecret")
		t.Setenv("PODQUEUED_STAGE_TIMEOUT", "1h30m")
		t.Setenv("PODQUEUED_MAX_AUDIO_SIZE", "50MB")
		t.Setenv("PODQUEUED_CMD_TRANSCRIBE", "mytranscriber ${EPISODE_SLUG}")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, 90*time.Minute, cfg.StageTimeout)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxAudioSize)
		assert.Equal(t, "mytranscriber ${EPISODE_SLUG}", cfg.StageCommands()["transcribe"])
	})
}
