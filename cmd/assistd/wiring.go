package main

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"assistd/internal/config"
	"assistd/internal/manager"
	"assistd/internal/registry"
	"assistd/internal/runtime"
)

// newManager builds the model manager for cfg. Weights are looked up in
// ModelsDir only when a llama-server is spawned; an attached server already
// has its model.
func newManager(ctx context.Context, d deps, cfg config.Config, reg prometheus.Registerer, log zerolog.Logger) *manager.Manager {
	mc := manager.Config{
		Runtime:              d.newRuntime(cfg, log),
		ModelID:              cfg.ModelID,
		ModelPath:            cfg.ModelPath,
		Precision:            runtime.Precision(strings.ToLower(cfg.Precision)),
		Device:               runtime.DevicePolicy(strings.ToLower(cfg.Device)),
		MaxQueueDepth:        cfg.MaxQueueDepth,
		MaxWait:              time.Duration(cfg.MaxWait),
		LoadTimeout:          time.Duration(cfg.LoadTimeout),
		GenerationTimeout:    time.Duration(cfg.GenerationTimeout),
		DrainTimeout:         time.Duration(cfg.ShutdownTimeout),
		AcceleratorAvailable: d.detect(ctx),
		Publisher:            manager.LogPublisher{Logger: log},
		Logger:               log,
	}
	if reg != nil {
		mc.Metrics = manager.NewMetrics(reg)
	}
	if strings.TrimSpace(cfg.RuntimeURL) == "" {
		dir := cfg.ModelsDir
		mc.Resolve = func(id string) (string, error) { return registry.Resolve(dir, id) }
	}
	return manager.New(mc)
}
