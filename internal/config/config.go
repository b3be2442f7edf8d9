package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Bot      BotConfig      `mapstructure:"bot"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Database DatabaseConfig `mapstructure:"database"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Report   ReportConfig   `mapstructure:"report"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	AdminUserIDs   []int64       `mapstructure:"admin_user_ids"`
	PollingTimeout int           `mapstructure:"polling_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Debug          bool          `mapstructure:"debug"`
}

type BotConfig struct {
	MaintenanceMessage  string        `mapstructure:"maintenance_message"`
	UnauthorizedMessage string        `mapstructure:"unauthorized_message"`
	StaleAfter          time.Duration `mapstructure:"stale_after"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	DSN            string        `mapstructure:"dsn"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
}

type JobsConfig struct {
	Report               JobConfig `mapstructure:"report"`
	Archive              JobConfig `mapstructure:"archive"`
	Monitoring           JobConfig `mapstructure:"monitoring"`
	BroadcastConcurrency int       `mapstructure:"broadcast_concurrency"`
}

type JobConfig struct {
	Cron string `mapstructure:"cron"`
}

type ReportConfig struct {
	Lookback time.Duration `mapstructure:"lookback"`
	TempDir  string        `mapstructure:"temp_dir"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	JSONFormat bool   `mapstructure:"json_format"`
}

// Load reads configuration from defaults, an optional YAML file, .env and the
// environment. An empty path searches the default locations.
func Load(path string) (*Config, error) {
	// .env is optional; real deployments set variables directly
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults. Keys without a default are invisible to AutomaticEnv
	// during Unmarshal, so required keys get empty ones.
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_user_ids", []int64{})
	v.SetDefault("database.dsn", "")
	v.SetDefault("telegram.polling_timeout", 60)
	v.SetDefault("telegram.request_timeout", "2m")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("bot.maintenance_message", "🛠 The bot is temporarily disabled by an administrator. Please try again later.")
	v.SetDefault("bot.unauthorized_message", "🔒 You are not authorized to use this command. Use /requestaccess to request access.")
	v.SetDefault("bot.stale_after", "5m")
	v.SetDefault("sqlite.path", "data/bot.db")
	v.SetDefault("database.command_timeout", "30s")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("jobs.report.cron", "0 0 9 * * *")
	v.SetDefault("jobs.archive.cron", "0 */30 * * * *")
	v.SetDefault("jobs.monitoring.cron", "0 0 */4 * * *")
	v.SetDefault("jobs.broadcast_concurrency", 8)
	v.SetDefault("report.lookback", "24h")
	v.SetDefault("report.temp_dir", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/integration-report-bot")
	}

	// Environment variables
	v.SetEnvPrefix("REPORT_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if len(c.Telegram.AdminUserIDs) == 0 {
		return fmt.Errorf("telegram.admin_user_ids must contain at least one user ID")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if c.Bot.StaleAfter <= 0 {
		return fmt.Errorf("bot.stale_after must be positive")
	}
	if c.Report.Lookback <= 0 {
		return fmt.Errorf("report.lookback must be positive")
	}
	if c.Jobs.BroadcastConcurrency < 1 {
		return fmt.Errorf("jobs.broadcast_concurrency must be at least 1")
	}
	for name, job := range map[string]JobConfig{
		"report":     c.Jobs.Report,
		"archive":    c.Jobs.Archive,
		"monitoring": c.Jobs.Monitoring,
	} {
		if strings.TrimSpace(job.Cron) == "" {
			return fmt.Errorf("jobs.%s.cron is required", name)
		}
	}
	return nil
}
