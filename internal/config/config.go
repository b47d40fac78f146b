package config

import (
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"  validate:"required"`
	Model   ModelConfig   `koanf:"model"   validate:"required"`
	Batch   BatchConfig   `koanf:"batch"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"            validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `koanf:"read_timeout"    validate:"min=0"`
	WriteTimeout   time.Duration `koanf:"write_timeout"   validate:"min=0"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes"  validate:"min=1"`
}

type ModelConfig struct {
	Path         string `koanf:"path"          validate:"required"`
	MetadataPath string `koanf:"metadata_path" validate:"required"`
	// LibraryPath points at the onnxruntime shared library; empty uses the loader default.
	LibraryPath string `koanf:"library_path"`
}

type BatchConfig struct {
	// Workers > 1 scores rows concurrently; output order is unaffected.
	Workers int `koanf:"workers" validate:"min=1,max=256"`
}

type LogConfig struct {
	Level  string `koanf:"level"  validate:"oneof=debug info warn error disabled"`
	JSON   bool   `koanf:"json"`
	Source bool   `koanf:"source"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"    validate:"required_if=Enabled true"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   10 << 20,
		},
		Model: ModelConfig{
			Path:         "models/exoplanet.onnx",
			MetadataPath: "models/exoplanet_metadata.json",
		},
		Batch: BatchConfig{
			Workers: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
