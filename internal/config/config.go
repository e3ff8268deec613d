// Package config loads service settings from defaults, an optional YAML file,
// a .env file and MEDISCAN_ prefixed environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/example/mediscan/internal/inference"
	"github.com/example/mediscan/internal/logging"
	"github.com/example/mediscan/internal/repository"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MEDISCAN"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Model    ModelConfig          `mapstructure:"model"`
	Policy   inference.Thresholds `mapstructure:"policy"`
	Database DatabaseConfig       `mapstructure:"database"`
	Cache    CacheConfig          `mapstructure:"cache"`
	Auth     AuthConfig           `mapstructure:"auth"`
	Log      LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	GinMode         string        `mapstructure:"gin_mode"`
}

type ModelConfig struct {
	// Backend is "tflite" or "onnx".
	Backend    string  `mapstructure:"backend"`
	Path       string  `mapstructure:"path"`
	LabelsPath string  `mapstructure:"labels_path"`
	Instances  int     `mapstructure:"instances"`
	Threads    int     `mapstructure:"threads"`
	CropFactor float64 `mapstructure:"crop_factor"`
	TopK       int     `mapstructure:"top_k"`
	AutoOrient bool    `mapstructure:"auto_orient"`

	ONNXLibrary string `mapstructure:"onnx_library"`
	ONNXInput   string `mapstructure:"onnx_input"`
	ONNXOutput  string `mapstructure:"onnx_output"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	LogLevel        string        `mapstructure:"log_level"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend     string        `mapstructure:"backend"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	DecisionTTL time.Duration `mapstructure:"decision_ttl"`
	RecordTTL   time.Duration `mapstructure:"record_ttl"`
}

type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	JWTAudience string        `mapstructure:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	thresholds := inference.DefaultThresholds()

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.gin_mode", "release")

	v.SetDefault("model.backend", "tflite")
	v.SetDefault("model.path", "models/skin_lesion_int8.tflite")
	v.SetDefault("model.labels_path", "models/labels.txt")
	v.SetDefault("model.instances", 1)
	v.SetDefault("model.threads", 2)
	v.SetDefault("model.crop_factor", 0.8)
	v.SetDefault("model.top_k", 3)
	v.SetDefault("model.auto_orient", false)
	v.SetDefault("model.onnx_library", "")
	v.SetDefault("model.onnx_input", "input")
	v.SetDefault("model.onnx_output", "output")

	v.SetDefault("policy.skin_ratio_min", thresholds.SkinRatioMin)
	v.SetDefault("policy.skin_ratio_low", thresholds.SkinRatioLow)
	v.SetDefault("policy.confidence_uncertain", thresholds.ConfidenceUncertain)
	v.SetDefault("policy.confidence_strong", thresholds.ConfidenceStrong)
	v.SetDefault("policy.low_skin_gate", thresholds.LowSkinGate)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mediscan.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.decision_ttl", 24*time.Hour)
	v.SetDefault("cache.record_ttl", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads the configuration. path may be empty, in which case only
// defaults, .env and the environment are consulted.
func Load(path string) (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	fractions := map[string]float64{
		"policy.skin_ratio_min":       c.Policy.SkinRatioMin,
		"policy.skin_ratio_low":       c.Policy.SkinRatioLow,
		"policy.confidence_uncertain": c.Policy.ConfidenceUncertain,
		"policy.confidence_strong":    c.Policy.ConfidenceStrong,
		"policy.low_skin_gate":        c.Policy.LowSkinGate,
	}
	for key, value := range fractions {
		if value < 0 || value > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", key, value))
		}
	}

	if c.Model.CropFactor <= 0 || c.Model.CropFactor > 1 {
		errs = append(errs, fmt.Errorf("model.crop_factor must be within (0,1], got %v", c.Model.CropFactor))
	}
	if c.Model.TopK < 1 {
		errs = append(errs, fmt.Errorf("model.top_k must be at least 1, got %d", c.Model.TopK))
	}
	if c.Model.Instances < 1 {
		errs = append(errs, fmt.Errorf("model.instances must be at least 1, got %d", c.Model.Instances))
	}
	switch c.Model.Backend {
	case "tflite", "onnx":
	default:
		errs = append(errs, fmt.Errorf("model.backend must be tflite or onnx, got %q", c.Model.Backend))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}

	return errors.Join(errs...)
}

// LoggingOptions converts the log section for logging.NewLogger.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// DatabaseOptions converts the database section for repository.Open.
func (c *Config) DatabaseOptions() repository.Options {
	return repository.Options{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		LogLevel:        c.Database.LogLevel,
		MaxIdleConns:    c.Database.MaxIdleConns,
		MaxOpenConns:    c.Database.MaxOpenConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// PipelineOptions converts the model and policy sections for inference.New.
func (c *Config) PipelineOptions() inference.Options {
	opts := inference.DefaultOptions()
	opts.Preprocessor.CropFactor = c.Model.CropFactor
	opts.Decoder.AutoOrient = c.Model.AutoOrient
	opts.Thresholds = c.Policy
	opts.TopK = c.Model.TopK
	return opts
}
