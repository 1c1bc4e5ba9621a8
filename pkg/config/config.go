package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Queue      QueueConfig      `yaml:"queue"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Workers    WorkersConfig    `yaml:"workers"`
	Pipelines  []PipelineConfig `yaml:"pipelines"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for worker authentication (optional, if empty, auth is disabled)
}

// StoreConfig task store backend selection
type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite, redis
	SQLite  struct {
		Path string `yaml:"path"` // database file path
	} `yaml:"sqlite"`
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration for ledger persistence (optional)
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig queue configuration
type QueueConfig struct {
	MaxRetry         int `yaml:"max_retry"`          // default maximum retry count
	TaskTimeout      int `yaml:"task_timeout"`       // default task timeout (seconds)
	SweepInterval    int `yaml:"sweep_interval"`     // timeout sweep interval (seconds)
	RetryBackoffBase int `yaml:"retry_backoff_base"` // base retry delay (seconds)
	RetryBackoffCap  int `yaml:"retry_backoff_cap"`  // maximum retry delay (seconds)
}

// LedgerConfig cost ledger configuration
type LedgerConfig struct {
	DailyBudget     float64            `yaml:"daily_budget"`     // total daily budget
	WorkerBudget    float64            `yaml:"worker_budget"`    // per-worker daily budget
	Pricing         map[string]float64 `yaml:"pricing"`          // per service rate per billable unit
	BaseRates       map[string]float64 `yaml:"base_rates"`       // per task type cost estimate base rate
	EssentialTypes  []string           `yaml:"essential_types"`  // worker types never paused
	SnapshotDir     string             `yaml:"snapshot_dir"`     // directory for JSON snapshots when MySQL is disabled
	RolloverEnabled bool               `yaml:"rollover_enabled"` // enable midnight rollover job
}

// MonitorConfig system monitor configuration
type MonitorConfig struct {
	HealthInterval  int     `yaml:"health_interval"`   // health check interval (seconds)
	CostInterval    int     `yaml:"cost_interval"`     // cost check interval (seconds)
	QueueInterval   int     `yaml:"queue_interval"`    // queue stats interval (seconds)
	SignalInterval  int     `yaml:"signal_interval"`   // signal file poll interval (seconds)
	SignalDir       string  `yaml:"signal_dir"`        // directory watched for signal files
	QueueBacklogMax int     `yaml:"queue_backlog_max"` // pending tasks above this raise an alert
	ErrorRateWarn   float64 `yaml:"error_rate_warn"`   // degraded threshold (ratio)
	ErrorRateCrit   float64 `yaml:"error_rate_crit"`   // critical threshold (ratio)
}

// SupervisorConfig worker supervision configuration
type SupervisorConfig struct {
	PollInterval     int `yaml:"poll_interval"`     // idle poll interval (seconds)
	HeartbeatTimeout int `yaml:"heartbeat_timeout"` // seconds before a silent worker is unresponsive
	MaxConsecutive   int `yaml:"max_consecutive"`   // consecutive errors before a worker pauses itself
}

// WorkersConfig worker pool configuration
type WorkersConfig struct {
	Pool map[string]int `yaml:"pool"` // supervisors started per worker type
}

// PipelineConfig recurring pipeline schedule
type PipelineConfig struct {
	Name            string   `yaml:"name"`
	Cron            string   `yaml:"cron"` // standard 5-field cron expression
	Niche           string   `yaml:"niche"`
	Frequency       string   `yaml:"frequency"`
	Sources         []string `yaml:"sources"`
	DeliveryMethods []string `yaml:"delivery_methods"`
	MaxPosts        int      `yaml:"max_posts"`
}

// RateLimitsConfig service call pacing configuration
type RateLimitsConfig struct {
	Services map[string]ServiceLimit `yaml:"services"`
}

// ServiceLimit per-service rate limit
type ServiceLimit struct {
	PerMinute int     `yaml:"per_minute"`
	PerHour   int     `yaml:"per_hour"`
	Burst     int     `yaml:"burst"`
	Cooldown  float64 `yaml:"cooldown"` // minimum seconds between consecutive calls
}

// NotifierConfig webhook notification configuration
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"` // empty disables notifications
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	cfg.applyDefaults()
	GlobalConfig = &cfg
	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "data/tasks.db"
	}
	if c.Queue.MaxRetry == 0 {
		c.Queue.MaxRetry = 3
	}
	if c.Queue.TaskTimeout == 0 {
		c.Queue.TaskTimeout = 300
	}
	if c.Queue.SweepInterval == 0 {
		c.Queue.SweepInterval = 60
	}
	if c.Queue.RetryBackoffBase == 0 {
		c.Queue.RetryBackoffBase = 5
	}
	if c.Queue.RetryBackoffCap == 0 {
		c.Queue.RetryBackoffCap = 300
	}
	if c.Ledger.DailyBudget == 0 {
		c.Ledger.DailyBudget = 50
	}
	if c.Ledger.WorkerBudget == 0 {
		c.Ledger.WorkerBudget = 5
	}
	if len(c.Ledger.Pricing) == 0 {
		c.Ledger.Pricing = map[string]float64{
			"llm_tokens": 0.000008, // per token
			"tts_chars":  0.000016, // per character
			"api_call":   0.001,    // per request
		}
	}
	if len(c.Ledger.BaseRates) == 0 {
		c.Ledger.BaseRates = map[string]float64{
			"scrape_source":     0.01,
			"generate_briefing": 0.05,
			"generate_audio":    0.10,
			"deliver_briefing":  0.02,
		}
	}
	if len(c.Ledger.EssentialTypes) == 0 {
		c.Ledger.EssentialTypes = []string{"scraper", "project_manager"}
	}
	if c.Ledger.SnapshotDir == "" {
		c.Ledger.SnapshotDir = "data/costs"
	}
	if c.Monitor.HealthInterval == 0 {
		c.Monitor.HealthInterval = 30
	}
	if c.Monitor.CostInterval == 0 {
		c.Monitor.CostInterval = 60
	}
	if c.Monitor.QueueInterval == 0 {
		c.Monitor.QueueInterval = 30
	}
	if c.Monitor.SignalInterval == 0 {
		c.Monitor.SignalInterval = 10
	}
	if c.Monitor.SignalDir == "" {
		c.Monitor.SignalDir = "data/signals"
	}
	if c.Monitor.QueueBacklogMax == 0 {
		c.Monitor.QueueBacklogMax = 100
	}
	if c.Monitor.ErrorRateWarn == 0 {
		c.Monitor.ErrorRateWarn = 0.10
	}
	if c.Monitor.ErrorRateCrit == 0 {
		c.Monitor.ErrorRateCrit = 0.20
	}
	if c.Supervisor.PollInterval == 0 {
		c.Supervisor.PollInterval = 5
	}
	if c.Supervisor.HeartbeatTimeout == 0 {
		c.Supervisor.HeartbeatTimeout = 120
	}
	if c.Supervisor.MaxConsecutive == 0 {
		c.Supervisor.MaxConsecutive = 5
	}
	if len(c.Workers.Pool) == 0 {
		c.Workers.Pool = map[string]int{
			"scraper":         2,
			"summarizer":      1,
			"audio":           1,
			"dashboard":       1,
			"project_manager": 1,
		}
	}
	if c.RateLimits.Services == nil {
		c.RateLimits.Services = map[string]ServiceLimit{}
	}
	if _, ok := c.RateLimits.Services["generic"]; !ok {
		c.RateLimits.Services["generic"] = ServiceLimit{PerMinute: 10, PerHour: 100, Burst: 2, Cooldown: 6.0}
	}
}
