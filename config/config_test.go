package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("UPSTASH_KAFKA_URL", "")
	t.Setenv("DAPR_HTTP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.ServerPort)
	assert.True(t, cfg.EventsEnabled)
	assert.Equal(t, "taskpubsub", cfg.PubSubName)
	assert.Equal(t, "statestore", cfg.StateStoreName)
	assert.Equal(t, "task-events", cfg.TaskEventsTopic)
	assert.Equal(t, "reminder-events", cfg.ReminderEventsTopic)
	assert.Equal(t, 60*time.Second, cfg.CronInterval())
	assert.False(t, cfg.QueueConfigured())
	assert.False(t, cfg.SidecarConfigured())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("UPSTASH_KAFKA_URL", "https://queue.example.com/")
	t.Setenv("UPSTASH_KAFKA_USERNAME", "user")
	t.Setenv("UPSTASH_KAFKA_PASSWORD", "secret")
	t.Setenv("DAPR_HTTP_PORT", "3501")
	t.Setenv("CRON_INTERVAL_SECONDS", "5")
	t.Setenv("EVENTS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://queue.example.com", cfg.QueueURL)
	assert.True(t, cfg.QueueConfigured())
	assert.True(t, cfg.SidecarConfigured())
	assert.False(t, cfg.EventsEnabled)
	assert.Equal(t, 5*time.Second, cfg.CronInterval())
}

func TestValidate_RejectsNonPositiveInterval(t *testing.T) {
	cfg := &Config{CronIntervalSeconds: 0, ConsumeIntervalSeconds: 15}
	assert.Error(t, cfg.Validate())
}

func TestValidate_QueueNeedsUsername(t *testing.T) {
	cfg := &Config{CronIntervalSeconds: 60, ConsumeIntervalSeconds: 15, QueueURL: "https://q"}
	assert.Error(t, cfg.Validate())
}
