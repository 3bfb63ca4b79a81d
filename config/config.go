package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel   string `env:"LOG_LEVEL" env-default:"INFO"`
	ServerPort string `env:"SERVER_PORT" env-default:"8001"`

	EventsEnabled bool `env:"EVENTS_ENABLED" env-default:"true"`

	// Managed queue (Upstash Kafka REST)
	QueueURL      string `env:"UPSTASH_KAFKA_URL"`
	QueueUsername string `env:"UPSTASH_KAFKA_USERNAME"`
	QueuePassword string `env:"UPSTASH_KAFKA_PASSWORD"`
	QueueGroup    string `env:"UPSTASH_CONSUMER_GROUP" env-default:"reminder-service"`
	QueueInstance string `env:"UPSTASH_CONSUMER_INSTANCE" env-default:"reminder-1"`

	// Dapr sidecar
	DaprHTTPPort   string `env:"DAPR_HTTP_PORT"`
	PubSubName     string `env:"PUBSUB_NAME" env-default:"taskpubsub"`
	StateStoreName string `env:"STATE_STORE_NAME" env-default:"statestore"`

	// Local SQLite state store, used instead of the sidecar state API when set
	StateDBPath string `env:"STATE_DB_PATH"`

	TaskEventsTopic     string `env:"TASK_EVENTS_TOPIC" env-default:"task-events"`
	ReminderEventsTopic string `env:"REMINDER_EVENTS_TOPIC" env-default:"reminder-events"`

	CronIntervalSeconds    int `env:"CRON_INTERVAL_SECONDS" env-default:"60"`
	ConsumeIntervalSeconds int `env:"CONSUME_INTERVAL_SECONDS" env-default:"15"`

	APIUsername string `env:"API_USERNAME"`
	APIPassword string `env:"API_PASSWORD"`

	CalDAVURL      string `env:"CALDAV_URL"`
	CalDAVUsername string `env:"CALDAV_USERNAME"`
	CalDAVPassword string `env:"CALDAV_PASSWORD"`
	CalDAVCalendar string `env:"CALDAV_CALENDAR"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.CronIntervalSeconds <= 0 {
		return fmt.Errorf("CRON_INTERVAL_SECONDS must be positive, got %d", c.CronIntervalSeconds)
	}
	if c.ConsumeIntervalSeconds <= 0 {
		return fmt.Errorf("CONSUME_INTERVAL_SECONDS must be positive, got %d", c.ConsumeIntervalSeconds)
	}
	if c.QueueURL != "" && c.QueueUsername == "" {
		return fmt.Errorf("UPSTASH_KAFKA_USERNAME is required when UPSTASH_KAFKA_URL is set")
	}
	c.QueueURL = strings.TrimRight(c.QueueURL, "/")
	return nil
}

// QueueConfigured reports whether the managed queue has a URL and credentials.
func (c *Config) QueueConfigured() bool {
	return c.QueueURL != "" && c.QueueUsername != ""
}

func (c *Config) SidecarConfigured() bool {
	return c.DaprHTTPPort != ""
}

func (c *Config) CalDAVConfigured() bool {
	return c.CalDAVURL != "" && c.CalDAVUsername != "" && c.CalDAVPassword != ""
}

func (c *Config) APIAuthEnabled() bool {
	return c.APIUsername != "" && c.APIPassword != ""
}

func (c *Config) CronInterval() time.Duration {
	return time.Duration(c.CronIntervalSeconds) * time.Second
}

func (c *Config) ConsumeInterval() time.Duration {
	return time.Duration(c.ConsumeIntervalSeconds) * time.Second
}
