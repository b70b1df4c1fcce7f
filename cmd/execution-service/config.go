package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	assistantSvc "develevate/internal/assistant/service"
	"develevate/internal/common/cache"
	"develevate/internal/common/http/middleware"
	"develevate/internal/common/mq"
	"develevate/internal/execution/controller"
	"develevate/internal/execution/judge"
	"develevate/internal/execution/repository"
	"develevate/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	judgeAPIKeyEnv     = "JUDGE_API_KEY"
	assistantAPIKeyEnv = "ASSISTANT_API_KEY"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// Gzip compresses responses for clients that accept it.
	Gzip        bool   `yaml:"gzip"`
	MetricsPath string `yaml:"metricsPath"`
}

// JudgeConfig holds remote judge settings.
type JudgeConfig struct {
	HTTP            judge.HTTPConfig `yaml:"http"`
	Languages       []judge.Language `yaml:"languages"`
	DefaultLanguage string           `yaml:"defaultLanguage"`
	OutputPolicy    string           `yaml:"outputPolicy"`
	PollInterval    time.Duration    `yaml:"pollInterval"`
	MaxPollAttempts int              `yaml:"maxPollAttempts"`
	CallTimeout     time.Duration    `yaml:"callTimeout"`
}

// ExecutionConfig holds orchestration settings.
type ExecutionConfig struct {
	MaxInFlight      int64                          `yaml:"maxInFlight"`
	MaxSessions      int                            `yaml:"maxSessions"`
	SessionIdleTTL   time.Duration                  `yaml:"sessionIdleTTL"`
	ObserverTimeout  time.Duration                  `yaml:"observerTimeout"`
	Limits           controller.Limits              `yaml:"limits"`
	RunRate          middleware.RateLimitPolicy     `yaml:"runRate"`
	Runs             repository.RunRepositoryConfig `yaml:"runs"`
	RunFinishedTopic string                         `yaml:"runFinishedTopic"`
	HistoryGroup     string                         `yaml:"historyGroup"`
}

// AssistantConfig holds assistant proxy settings.
type AssistantConfig struct {
	Enabled bool                       `yaml:"enabled"`
	Client  assistantSvc.ClientConfig  `yaml:"client"`
	Service assistantSvc.Config        `yaml:"service"`
	Rate    middleware.RateLimitPolicy `yaml:"rate"`
}

// AppConfig holds execution-service configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Logger    logger.Config     `yaml:"logger"`
	Redis     cache.RedisConfig `yaml:"redis"`
	Kafka     mq.KafkaConfig    `yaml:"kafka"`
	Judge     JudgeConfig       `yaml:"judge"`
	Execution ExecutionConfig   `yaml:"execution"`
	Assistant AssistantConfig   `yaml:"assistant"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadEnv reads envPath when it exists. Variables already set win.
func loadEnv(envPath string) error {
	if envPath == "" {
		return nil
	}
	if _, err := os.Stat(envPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file failed: %w", err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{}
	cfg.Assistant.Client = assistantSvc.DefaultClientConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	cfg.Judge.HTTP.APIKey = strings.TrimSpace(os.Getenv(judgeAPIKeyEnv))
	cfg.Assistant.Client.APIKey = strings.TrimSpace(os.Getenv(assistantAPIKeyEnv))
	if cfg.Assistant.Enabled && cfg.Assistant.Client.APIKey == "" {
		return nil, fmt.Errorf("%s is required when the assistant is enabled", assistantAPIKeyEnv)
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}

	if cfg.Judge.HTTP.BaseURL == "" {
		cfg.Judge.HTTP.BaseURL = "https://judge0-ce.p.rapidapi.com"
	}
	if cfg.Judge.HTTP.APIHost == "" {
		cfg.Judge.HTTP.APIHost = "judge0-ce.p.rapidapi.com"
	}
	if cfg.Judge.HTTP.RequestTimeout == 0 {
		cfg.Judge.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.Judge.DefaultLanguage == "" {
		cfg.Judge.DefaultLanguage = judge.DefaultLanguageKey
	}
	if cfg.Judge.PollInterval == 0 {
		cfg.Judge.PollInterval = time.Second
	}
	if cfg.Judge.MaxPollAttempts == 0 {
		cfg.Judge.MaxPollAttempts = 10
	}

	if cfg.Execution.MaxInFlight == 0 {
		cfg.Execution.MaxInFlight = 4
	}
	if cfg.Execution.SessionIdleTTL <= 0 {
		cfg.Execution.SessionIdleTTL = 30 * time.Minute
	}
	if cfg.Execution.RunRate.Window == 0 {
		cfg.Execution.RunRate.Window = time.Minute
	}
	if cfg.Execution.RunRate.IPMax == 0 {
		cfg.Execution.RunRate.IPMax = 30
	}
	if cfg.Execution.RunFinishedTopic == "" {
		cfg.Execution.RunFinishedTopic = "execution.run.finished"
	}
	if cfg.Execution.HistoryGroup == "" {
		cfg.Execution.HistoryGroup = "execution-history"
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Execution.Runs.InlineHistory = true
	}

	if cfg.Assistant.Rate.Window == 0 {
		cfg.Assistant.Rate.Window = time.Minute
	}
	if cfg.Assistant.Rate.SessionMax == 0 {
		cfg.Assistant.Rate.SessionMax = 20
	}
}
