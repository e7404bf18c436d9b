package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30s" in every config format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	ModelID   string `json:"model_id" yaml:"model_id" toml:"model_id"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	ModelPath string `json:"model_path" yaml:"model_path" toml:"model_path"`
	Precision string `json:"precision" yaml:"precision" toml:"precision"`
	Device    string `json:"device" yaml:"device" toml:"device"`

	// RuntimeURL attaches to a running llama-server instead of spawning one.
	RuntimeURL    string `json:"runtime_url" yaml:"runtime_url" toml:"runtime_url"`
	RuntimeAPIKey string `json:"runtime_api_key" yaml:"runtime_api_key" toml:"runtime_api_key"`
	LlamaBin      string `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaHost     string `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	CtxSize       int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads       int    `json:"threads" yaml:"threads" toml:"threads"`
	// GPULayers nil derives offload from the resolved device.
	GPULayers *int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`

	MaxQueueDepth     int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait           Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	RequestTimeout    Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	GenerationTimeout Duration `json:"generation_timeout" yaml:"generation_timeout" toml:"generation_timeout"`
	LoadTimeout       Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	MaxBodyBytes      int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat   string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
