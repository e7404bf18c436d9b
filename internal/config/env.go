package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override, e.g. ASSISTD_MODEL_ID.
const EnvPrefix = "ASSISTD_"

type envField struct {
	key string
	set func(c *Config, v string) error
}

func str(f func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *f(c) = v; return nil }
}

func integer(f func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func duration(f func(c *Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error { return f(c).UnmarshalText([]byte(v)) }
}

var envFields = []envField{
	{"ADDR", str(func(c *Config) *string { return &c.Addr })},
	{"MODEL_ID", str(func(c *Config) *string { return &c.ModelID })},
	{"MODELS_DIR", str(func(c *Config) *string { return &c.ModelsDir })},
	{"MODEL_PATH", str(func(c *Config) *string { return &c.ModelPath })},
	{"PRECISION", str(func(c *Config) *string { return &c.Precision })},
	{"DEVICE", str(func(c *Config) *string { return &c.Device })},
	{"RUNTIME_URL", str(func(c *Config) *string { return &c.RuntimeURL })},
	{"RUNTIME_API_KEY", str(func(c *Config) *string { return &c.RuntimeAPIKey })},
	{"LLAMA_BIN", str(func(c *Config) *string { return &c.LlamaBin })},
	{"LLAMA_HOST", str(func(c *Config) *string { return &c.LlamaHost })},
	{"CTX_SIZE", integer(func(c *Config) *int { return &c.CtxSize })},
	{"THREADS", integer(func(c *Config) *int { return &c.Threads })},
	{"GPU_LAYERS", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.GPULayers = &n
		return nil
	}},
	{"MAX_QUEUE_DEPTH", integer(func(c *Config) *int { return &c.MaxQueueDepth })},
	{"MAX_WAIT", duration(func(c *Config) *Duration { return &c.MaxWait })},
	{"REQUEST_TIMEOUT", duration(func(c *Config) *Duration { return &c.RequestTimeout })},
	{"GENERATION_TIMEOUT", duration(func(c *Config) *Duration { return &c.GenerationTimeout })},
	{"LOAD_TIMEOUT", duration(func(c *Config) *Duration { return &c.LoadTimeout })},
	{"SHUTDOWN_TIMEOUT", duration(func(c *Config) *Duration { return &c.ShutdownTimeout })},
	{"MAX_BODY_BYTES", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MaxBodyBytes = n
		return nil
	}},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
	{"CORS_ORIGINS", func(c *Config, v string) error {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
		return nil
	}},
}

// ApplyEnv overlays ASSISTD_* variables found by lookup onto cfg. Empty
// values are ignored. lookup defaults to os.LookupEnv.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, f := range envFields {
		v, ok := lookup(EnvPrefix + f.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := f.set(&cfg, strings.TrimSpace(v)); err != nil {
			return cfg, fmt.Errorf("%s%s: %w", EnvPrefix, f.key, err)
		}
	}
	return cfg, nil
}
