package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied by Defaults when a field is unset.
const (
	DefaultAddr            = "0.0.0.0:8000"
	DefaultModelID         = "Revolc/AssistantTherapeutique"
	DefaultModelsDir       = "~/models/llm"
	DefaultLlamaBin        = "llama-server"
	DefaultCtxSize         = 4096
	DefaultMaxQueueDepth   = 32
	DefaultMaxWait         = 30 * time.Second
	DefaultRequestTimeout  = 2 * time.Minute
	DefaultLoadTimeout     = 10 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
)

// Defaults returns cfg with every unset field filled in.
func Defaults(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = DefaultModelsDir
	}
	if cfg.Precision == "" {
		cfg.Precision = "auto"
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.LlamaBin == "" && cfg.RuntimeURL == "" {
		cfg.LlamaBin = DefaultLlamaBin
	}
	if cfg.CtxSize == 0 {
		cfg.CtxSize = DefaultCtxSize
	}
	if cfg.MaxQueueDepth == 0 {
		cfg.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = Duration(DefaultMaxWait)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = Duration(DefaultLoadTimeout)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return cfg
}

// Validate rejects values Defaults cannot repair.
func (c Config) Validate() error {
	switch strings.ToLower(c.Precision) {
	case "auto", "f16", "f32":
	default:
		return fmt.Errorf("precision must be auto, f16 or f32: %q", c.Precision)
	}
	switch strings.ToLower(c.Device) {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("device must be auto, cpu or cuda: %q", c.Device)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console: %q", c.LogFormat)
	}
	if c.MaxQueueDepth < 0 || c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_queue_depth and max_body_bytes must not be negative")
	}
	if c.RuntimeURL == "" && c.LlamaBin == "" {
		return fmt.Errorf("either runtime_url or llama_bin is required")
	}
	return nil
}
