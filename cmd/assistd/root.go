package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"assistd/internal/config"
	"assistd/internal/runtime"
	"assistd/internal/runtime/llamaserver"
)

// Set with -ldflags "-X main.version=..." at build time.
var version = "dev"

// deps are the seams the commands need replaced in tests.
type deps struct {
	newRuntime func(cfg config.Config, log zerolog.Logger) runtime.Runtime
	detect     func(ctx context.Context) bool
	registry   prometheus.Registerer
	// listening is told the bound address once serve accepts connections.
	listening  func(addr string)
	stdout     io.Writer
	stderr     io.Writer
}

func defaultDeps() deps {
	return deps{
		newRuntime: newLlamaRuntime,
		detect:     runtime.DetectCUDA,
		registry:   prometheus.DefaultRegisterer,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

func newLlamaRuntime(cfg config.Config, log zerolog.Logger) runtime.Runtime {
	layers := -1
	if cfg.GPULayers != nil {
		layers = *cfg.GPULayers
	}
	return llamaserver.New(llamaserver.Config{
		BaseURL:      cfg.RuntimeURL,
		APIKey:       cfg.RuntimeAPIKey,
		Bin:          cfg.LlamaBin,
		Host:         cfg.LlamaHost,
		CtxSize:      cfg.CtxSize,
		Threads:      cfg.Threads,
		GPULayers:    layers,
		ReadyTimeout: time.Duration(cfg.LoadTimeout),
		Logger:       log,
	})
}

func newRootCmd(d deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "assistd",
		Short:         "Therapeutic assistant inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(d.stdout)
	root.SetErr(d.stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.String("env-file", ".env", "Environment file loaded before ASSISTD_* variables are read")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: json|console")
	pf.String("model-id", "", "Model identifier reported to clients and used to find weights")
	pf.String("models-dir", "", "Directory to scan for *.gguf model files")
	pf.String("model-path", "", "Explicit GGUF weights path (skips models-dir lookup)")
	pf.String("precision", "", "Weights/cache precision: auto|f16|f32")
	pf.String("device", "", "Device policy: auto|cpu|cuda")
	pf.String("runtime-url", "", "Attach to a running llama-server instead of spawning one")
	pf.String("llama-bin", "", "llama-server binary to spawn")
	pf.Int("ctx-size", 0, "Context size passed to llama-server")
	pf.Int("threads", 0, "CPU threads passed to llama-server")
	pf.Int("gpu-layers", 0, "Layers to offload (default: all on cuda, none on cpu)")
	pf.Duration("load-timeout", 0, "Upper bound for model load")
	pf.Duration("generation-timeout", 0, "Upper bound for one generation (0 = none)")

	root.AddCommand(newServeCmd(d), newTryCmd(d), newAskCmd(d), newVersionCmd(d))
	return root
}

// resolveConfig layers file, .env, ASSISTD_* variables and flags, then
// applies defaults and validates.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	fs := cmd.Flags()
	var cfg config.Config
	if path, _ := fs.GetString("config"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if envFile, _ := fs.GetString("env-file"); envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return cfg, fmt.Errorf("env file %s: %w", envFile, err)
		}
	}
	cfg, err := config.ApplyEnv(cfg, nil)
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(fs, &cfg); err != nil {
		return cfg, err
	}
	cfg = config.Defaults(cfg)
	return cfg, cfg.Validate()
}

func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	strs := map[string]*string{
		"addr":        &cfg.Addr,
		"log-level":   &cfg.LogLevel,
		"log-format":  &cfg.LogFormat,
		"model-id":    &cfg.ModelID,
		"models-dir":  &cfg.ModelsDir,
		"model-path":  &cfg.ModelPath,
		"precision":   &cfg.Precision,
		"device":      &cfg.Device,
		"runtime-url": &cfg.RuntimeURL,
		"llama-bin":   &cfg.LlamaBin,
	}
	for name, dst := range strs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	ints := map[string]*int{
		"ctx-size":        &cfg.CtxSize,
		"threads":         &cfg.Threads,
		"max-queue-depth": &cfg.MaxQueueDepth,
	}
	for name, dst := range ints {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if fs.Changed("gpu-layers") {
		v, err := fs.GetInt("gpu-layers")
		if err != nil {
			return err
		}
		cfg.GPULayers = &v
	}
	durs := map[string]*config.Duration{
		"load-timeout":       &cfg.LoadTimeout,
		"generation-timeout": &cfg.GenerationTimeout,
		"max-wait":           &cfg.MaxWait,
		"request-timeout":    &cfg.RequestTimeout,
		"shutdown-timeout":   &cfg.ShutdownTimeout,
	}
	for name, dst := range durs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = config.Duration(v)
	}
	if fs.Lookup("max-body-bytes") != nil && fs.Changed("max-body-bytes") {
		v, err := fs.GetInt64("max-body-bytes")
		if err != nil {
			return err
		}
		cfg.MaxBodyBytes = v
	}
	if fs.Lookup("cors-origins") != nil && fs.Changed("cors-origins") {
		v, err := fs.GetStringSlice("cors-origins")
		if err != nil {
			return err
		}
		cfg.CORSOrigins = v
	}
	return nil
}

// buildLogger creates the process logger from config.
func buildLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(cfg.LogFormat, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "assistd").Logger()
}
