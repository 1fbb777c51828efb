package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xaenox/agent-router/internal/models"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Background BackgroundConfig `mapstructure:"background"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Log        LogConfig        `mapstructure:"log"`
	Agents     []AgentConfig    `mapstructure:"agents"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	RateBurst       int           `mapstructure:"rate_burst"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	HistoryLimit    int           `mapstructure:"history_limit"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type ClassifierConfig struct {
	// Backend is "gpt" or "keyword"
	Backend          string  `mapstructure:"backend"`
	Model            string  `mapstructure:"model"`
	ContinuityBoost  float64 `mapstructure:"continuity_boost"`
	FollowUpMaxWords int     `mapstructure:"follow_up_max_words"`
}

type BackgroundConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	Attempts       int           `mapstructure:"attempts"`
	Delay          time.Duration `mapstructure:"delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// AgentConfig defines one agent profile in the config file
type AgentConfig struct {
	ID           string   `mapstructure:"id"`
	ProjectID    string   `mapstructure:"project_id"`
	Kind         string   `mapstructure:"kind"`
	Name         string   `mapstructure:"name"`
	Instructions string   `mapstructure:"instructions"`
	Tools        []string `mapstructure:"tools"`
	Model        string   `mapstructure:"model"`
	IsDefault    bool     `mapstructure:"is_default"`
	IsSystem     bool     `mapstructure:"is_system"`
}

func (c *Config) Profiles() []models.AgentProfile {
	profiles := make([]models.AgentProfile, 0, len(c.Agents))
	for _, a := range c.Agents {
		profiles = append(profiles, models.AgentProfile{
			ID:           a.ID,
			ProjectID:    a.ProjectID,
			Kind:         models.AgentKind(strings.ToLower(a.Kind)),
			Name:         a.Name,
			Instructions: a.Instructions,
			Tools:        a.Tools,
			Model:        a.Model,
			IsDefault:    a.IsDefault,
			IsSystem:     a.IsSystem,
		})
	}
	return profiles
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Classifier.Backend {
	case "gpt", "keyword":
	default:
		errs = append(errs, fmt.Errorf("classifier.backend must be gpt or keyword, got %q", c.Classifier.Backend))
	}
	if c.Classifier.ContinuityBoost < 0.15 || c.Classifier.ContinuityBoost > 0.25 {
		errs = append(errs, fmt.Errorf("classifier.continuity_boost must be within [0.15, 0.25], got %.2f", c.Classifier.ContinuityBoost))
	}
	if c.Classifier.FollowUpMaxWords <= 0 {
		errs = append(errs, errors.New("classifier.follow_up_max_words must be positive"))
	}
	if c.Background.MaxWorkers <= 0 {
		errs = append(errs, errors.New("background.max_workers must be positive"))
	}
	if c.Background.Attempts <= 0 {
		errs = append(errs, errors.New("background.attempts must be positive"))
	}
	if c.Background.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("background.attempt_timeout must be positive"))
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.token is set"))
	}
	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent must be configured"))
	}
	return errors.Join(errs...)
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit_per_min", 120)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.heartbeat", 15*time.Second)
	v.SetDefault("server.history_limit", 50)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("classifier.backend", "gpt")
	v.SetDefault("classifier.continuity_boost", 0.20)
	v.SetDefault("classifier.follow_up_max_words", 8)
	v.SetDefault("background.max_workers", 4)
	v.SetDefault("background.queue_size", 64)
	v.SetDefault("background.attempts", 3)
	v.SetDefault("background.delay", 2*time.Second)
	v.SetDefault("background.attempt_timeout", 120*time.Second)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.interval", time.Minute)
	v.SetDefault("log.development", false)

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.UseInMemory = config.Database.UseInMemory
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if config.Classifier.Model == "" {
		config.Classifier.Model = config.OpenAI.Model
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}
