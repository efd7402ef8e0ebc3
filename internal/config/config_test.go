package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.FollowUpDelay)
	assert.Equal(t, time.Minute, cfg.StepTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.SchedulerTick)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HOMEFLOW_HTTP_ADDR", ":9000")
	t.Setenv("HOMEFLOW_FOLLOWUP_DELAY", "30m")
	t.Setenv("HOMEFLOW_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.FollowUpDelay)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoadRequiresOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestValidateMailgunPairing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MAILGUN_API_KEY", "key-test")
	t.Setenv("MAILGUN_DOMAIN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAILGUN")
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HOMEFLOW_STEP_TIMEOUT", "0s")

	_, err := Load()
	assert.Error(t, err)
}
