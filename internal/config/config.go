package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration. Each pipeline stage receives only the
// slice of this it needs at construction; nothing reads viper after Load.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	NATS    NATSConfig    `mapstructure:"nats"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Analyze AnalyzeConfig `mapstructure:"analyze"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Jira    JiraConfig    `mapstructure:"jira"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	AlertDBPath string `mapstructure:"alert_db_path"`
	CacheDBPath string `mapstructure:"cache_db_path"`
	// SweepSchedule is a cron expression for the expired-cache sweep.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

type QueueConfig struct {
	// DedupWindow bounds transport-level duplicate suppression. It is not a
	// substitute for application-level idempotency.
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	AckWait     time.Duration `mapstructure:"ack_wait"`
	// MaxAttempts is the total delivery budget before a message moves to
	// the dead-letter stream.
	MaxAttempts int `mapstructure:"max_attempts"`
}

type IngestConfig struct {
	PublishRetries int           `mapstructure:"publish_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

type AnalyzeConfig struct {
	// MaxInFlight caps simultaneously in-flight AI calls. Excess work
	// accumulates in the processing queue.
	MaxInFlight int64         `mapstructure:"max_in_flight"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type SlackConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	ChannelID     string        `mapstructure:"channel_id"`
	SigningSecret string        `mapstructure:"signing_secret"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

type JiraConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	ProjectKey  string        `mapstructure:"project_key"`
	IssueType   string        `mapstructure:"issue_type"`
	APIToken    string        `mapstructure:"api_token"` // "email:token"
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// Load reads config/config.yaml (missing file is fine, defaults apply) with
// TRIAGE_-prefixed environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("TRIAGE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "first-responder")
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("storage.alert_db_path", "alerts.db")
	v.SetDefault("storage.cache_db_path", "analysis_cache.db")
	v.SetDefault("storage.sweep_schedule", "0 */10 * * * *")
	v.SetDefault("queue.dedup_window", 5*time.Minute)
	v.SetDefault("queue.ack_wait", 30*time.Second)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("ingest.publish_retries", 3)
	v.SetDefault("ingest.retry_delay", 200*time.Millisecond)
	v.SetDefault("analyze.max_in_flight", 4)
	v.SetDefault("analyze.cache_ttl", time.Hour)
	v.SetDefault("analyze.model", "gemini-2.5-flash")
	v.SetDefault("analyze.call_timeout", 60*time.Second)
	v.SetDefault("slack.call_timeout", 10*time.Second)
	v.SetDefault("jira.issue_type", "Task")
	v.SetDefault("jira.call_timeout", 15*time.Second)
}
