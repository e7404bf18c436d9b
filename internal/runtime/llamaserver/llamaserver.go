// Package llamaserver implements runtime.Runtime on top of llama.cpp's
// llama-server. It either attaches to a server that is already running or
// spawns one for the resolved GGUF file and owns its lifetime.
package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"assistd/internal/runtime"
)

const (
	defaultHost         = "127.0.0.1"
	defaultReadyTimeout = 2 * time.Minute
	// allLayers asks llama-server to offload every layer it can.
	allLayers = 999
)

// Config selects attach or spawn mode and tunes the spawned server.
type Config struct {
	// BaseURL attaches to an existing server. When empty, Bin is spawned.
	BaseURL string
	APIKey  string

	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	CtxSize   int
	Threads   int
	// GPULayers overrides layer offload; negative means derive from placement.
	GPULayers int
	ExtraArgs []string

	RequestTimeout time.Duration
	ReadyTimeout   time.Duration

	// DetectAccelerator defaults to runtime.DetectCUDA.
	DetectAccelerator func(context.Context) bool
	Logger            zerolog.Logger
}

// Runtime loads handles backed by llama-server.
type Runtime struct {
	cfg Config
}

// New returns a Runtime for cfg.
func New(cfg Config) *Runtime {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultHost
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.DetectAccelerator == nil {
		cfg.DetectAccelerator = runtime.DetectCUDA
	}
	return &Runtime{cfg: cfg}
}

// Load implements runtime.Runtime.
func (r *Runtime) Load(ctx context.Context, opts runtime.LoadOptions) (runtime.Handle, error) {
	log := r.cfg.Logger.With().Str("component", "llamaserver").Str("model", opts.ModelID).Logger()
	placement := runtime.Resolve(opts.Precision, opts.Device, r.cfg.DetectAccelerator(ctx))

	h := &handle{placement: placement, log: log}
	if base := strings.TrimSpace(r.cfg.BaseURL); base != "" {
		h.c = newClient(base, r.cfg.APIKey, r.cfg.RequestTimeout, 0)
		if err := waitHealthy(ctx, h.c, r.cfg.ReadyTimeout); err != nil {
			return nil, fmt.Errorf("attach %s: %w", base, err)
		}
		log.Info().Str("event", "attach_ready").Str("url", base).Msg("llama-server reachable")
	} else {
		proc, err := r.spawn(ctx, opts, placement, log)
		if err != nil {
			return nil, err
		}
		h.proc = proc
		h.c = newClient(proc.baseURL, r.cfg.APIKey, r.cfg.RequestTimeout, 0)
		if err := proc.waitReady(ctx, h.c, r.cfg.ReadyTimeout); err != nil {
			return nil, err
		}
	}

	// Tokenizing nothing with specials enabled yields exactly the tokens the
	// model adds on its own (BOS for llama-family vocabularies).
	specials, err := h.c.tokenize(ctx, "", true)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.special = make(map[int32]struct{}, len(specials))
	for _, id := range specials {
		h.special[id] = struct{}{}
	}
	log.Info().Str("device", placement.Device).Str("precision", string(placement.Precision)).Msg("model handle ready")
	return h, nil
}

func (r *Runtime) spawn(ctx context.Context, opts runtime.LoadOptions, pl runtime.Placement, log zerolog.Logger) (*process, error) {
	if strings.TrimSpace(r.cfg.Bin) == "" {
		return nil, errors.New("no llama-server binary configured and no runtime url to attach to")
	}
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, fmt.Errorf("model %s has no local weights path", opts.ModelID)
	}
	var (
		port int
		err  error
	)
	if r.cfg.PortStart > 0 && r.cfg.PortEnd >= r.cfg.PortStart {
		port, err = pickPortInRange(r.cfg.Host, r.cfg.PortStart, r.cfg.PortEnd)
	} else {
		port, err = pickFreePort(r.cfg.Host)
	}
	if err != nil {
		return nil, err
	}
	layers := r.cfg.GPULayers
	if layers < 0 {
		layers = 0
		if pl.Accelerated() {
			layers = allLayers
		}
	}
	return startProcess(spawnArgs{
		bin:       r.cfg.Bin,
		modelPath: opts.ModelPath,
		host:      r.cfg.Host,
		port:      port,
		ctxSize:   r.cfg.CtxSize,
		threads:   r.cfg.Threads,
		gpuLayers: layers,
		cacheType: string(pl.Precision),
		extra:     r.cfg.ExtraArgs,
	}, log)
}

func waitHealthy(ctx context.Context, c *client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		err := c.health(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last: %v)", ctx.Err(), err)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

type handle struct {
	c         *client
	proc      *process
	placement runtime.Placement
	log       zerolog.Logger

	mu sync.Mutex
	// special holds ids Decode drops when asked to skip special tokens.
	special map[int32]struct{}
	closed  bool
}

func (h *handle) Encode(ctx context.Context, text string) (runtime.Tokens, error) {
	if h.isClosed() {
		return nil, runtime.ErrClosed
	}
	ids, err := h.c.tokenize(ctx, text, true)
	if err != nil {
		return nil, err
	}
	return runtime.Tokens(ids), nil
}

func (h *handle) Generate(ctx context.Context, in runtime.Tokens, cfg runtime.GenerationConfig) (runtime.Tokens, error) {
	if h.isClosed() {
		return nil, runtime.ErrClosed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	temp := cfg.Temperature
	if !cfg.DoSample {
		// llama.cpp samples greedily at temperature <= 0.
		temp = 0
	}
	// Single-sequence requests need no padding, so PadWithEOS has no wire form.
	resp, err := h.c.complete(ctx, completionRequest{
		Prompt:       in,
		NPredict:     cfg.MaxNewTokens,
		Temperature:  temp,
		TopP:         cfg.TopP,
		ReturnTokens: true,
		CachePrompt:  true,
	})
	if err != nil {
		return nil, err
	}
	gen := resp.Tokens
	if len(gen) == 0 && resp.Content != "" {
		// Older servers ignore return_tokens.
		if gen, err = h.c.tokenize(ctx, resp.Content, false); err != nil {
			return nil, err
		}
	}
	if resp.StopType == "eos" && len(resp.Tokens) > 0 {
		// The sampled end-of-generation token is returned like any other;
		// remember it so Decode can drop it.
		h.markSpecial(resp.Tokens[len(resp.Tokens)-1])
	}
	h.log.Debug().Int("prompt_tokens", len(in)).Int("new_tokens", len(gen)).Str("stop_type", resp.StopType).Msg("completion")
	out := make(runtime.Tokens, 0, len(in)+len(gen))
	out = append(out, in...)
	return append(out, gen...), nil
}

func (h *handle) Decode(ctx context.Context, toks runtime.Tokens, skipSpecial bool) (string, error) {
	if h.isClosed() {
		return "", runtime.ErrClosed
	}
	ids := []int32(toks)
	if skipSpecial {
		h.mu.Lock()
		ids = make([]int32, 0, len(toks))
		for _, id := range toks {
			if _, ok := h.special[id]; !ok {
				ids = append(ids, id)
			}
		}
		h.mu.Unlock()
	}
	return h.c.detokenize(ctx, ids)
}

func (h *handle) markSpecial(id int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.special[id]; ok {
		return
	}
	h.special[id] = struct{}{}
	h.log.Debug().Int32("token", id).Msg("end-of-generation token learned")
}

func (h *handle) Placement() runtime.Placement { return h.placement }

func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	if h.proc != nil {
		h.proc.stop()
	}
	return nil
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
