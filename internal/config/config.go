package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ckd-backend/internal/diagnosis"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Training    TrainingConfig    `yaml:"training"`
	Policy      PolicyConfig      `yaml:"policy"`
	Progress    ProgressConfig    `yaml:"progress"`
	RemoteModel RemoteModelConfig `yaml:"remote_model"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"CKD_SERVER_PORT"`
	Mode string `yaml:"mode" env:"CKD_SERVER_MODE"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"CKD_DATABASE_DRIVER"`
	URL    string `yaml:"url" env:"CKD_DATABASE_URL"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"CKD_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"CKD_TOKEN_TTL"`
}

type ArtifactsConfig struct {
	Dir          string `yaml:"dir" env:"CKD_ARTIFACTS_DIR"`
	KeepVersions int    `yaml:"keep_versions" env:"CKD_ARTIFACTS_KEEP_VERSIONS"`
}

type TrainingConfig struct {
	Family       string  `yaml:"family" env:"CKD_TRAINING_FAMILY"`
	Seed         int64   `yaml:"seed" env:"CKD_TRAINING_SEED"`
	Balance      bool    `yaml:"balance" env:"CKD_TRAINING_BALANCE"`
	TestRatio    float64 `yaml:"test_ratio" env:"CKD_TRAINING_TEST_RATIO"`
	Trees        int     `yaml:"trees" env:"CKD_TRAINING_TREES"`
	MaxDepth     int     `yaml:"max_depth"`
	Rounds       int     `yaml:"rounds"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs" env:"CKD_TRAINING_EPOCHS"`
	BatchSize    int     `yaml:"batch_size"`
	Hidden       []int   `yaml:"hidden"`
}

type PolicyConfig struct {
	OverrideMinFlags int                  `yaml:"override_min_flags" env:"CKD_OVERRIDE_MIN_FLAGS"`
	Thresholds       diagnosis.Thresholds `yaml:"thresholds"`
}

type ProgressConfig struct {
	Backend string `yaml:"backend" env:"CKD_PROGRESS_BACKEND"`
	Redis   struct {
		Addr     string        `yaml:"addr" env:"CKD_REDIS_ADDR"`
		Password string        `yaml:"password" env:"CKD_REDIS_PASSWORD"`
		DB       int           `yaml:"db"`
		Key      string        `yaml:"key"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
}

type RemoteModelConfig struct {
	URL string `yaml:"url" env:"CKD_REMOTE_MODEL_URL"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" env:"CKD_TELEGRAM_ENABLED"`
	Token   string `yaml:"token" env:"CKD_TELEGRAM_TOKEN"`
	ChatID  int64  `yaml:"chat_id" env:"CKD_TELEGRAM_CHAT_ID"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"CKD_LOG_LEVEL"`
	Format string `yaml:"format" env:"CKD_LOG_FORMAT"`
}

// Default returns the configuration used for every key the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080", Mode: "release"},
		Database:  DatabaseConfig{Driver: "sqlite"},
		Auth:      AuthConfig{TokenTTL: 24 * time.Hour},
		Artifacts: ArtifactsConfig{Dir: "artifacts", KeepVersions: 3},
		Training: TrainingConfig{
			Family:    "forest",
			Seed:      42,
			Balance:   true,
			TestRatio: 0.2,
		},
		Policy: PolicyConfig{
			OverrideMinFlags: diagnosis.DefaultMinFlags,
			Thresholds:       diagnosis.DefaultThresholds(),
		},
		Progress: ProgressConfig{Backend: "file"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads configuration from the specified YAML file over the
// defaults, expands ${VAR} references and applies CKD_* environment
// overrides. An empty path skips the file.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))

		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if config.Database.URL == "" && config.Database.Driver == "sqlite" {
		config.Database.URL = "ckd.db?_pragma=foreign_keys(1)&_time_format=sqlite"
	}
	if config.Progress.Redis.Key == "" {
		config.Progress.Redis.Key = "ckd:retrain:progress"
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Artifacts.KeepVersions < 0 {
		return fmt.Errorf("artifacts.keep_versions must not be negative")
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio must be between 0 and 1, got %v", c.Training.TestRatio)
	}
	if c.Policy.OverrideMinFlags < 0 {
		return fmt.Errorf("policy.override_min_flags must not be negative")
	}
	t := c.Policy.Thresholds
	if t.Creatinine < 0 || t.Albumin < 0 || t.Hemoglobin < 0 || t.PCV < 0 {
		return fmt.Errorf("policy.thresholds must not be negative")
	}
	switch c.Progress.Backend {
	case "file":
	case "redis":
		if c.Progress.Redis.Addr == "" {
			return fmt.Errorf("progress.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("progress.backend must be file or redis, got %q", c.Progress.Backend)
	}
	if c.Training.Family == "remote" && c.RemoteModel.URL == "" {
		return fmt.Errorf("remote_model.url is required for the remote family")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
