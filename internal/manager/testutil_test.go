package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assistd/internal/runtime"
)

// fakeRuntime hands out fakeHandles and records the options it was given.
type fakeRuntime struct {
	handle  *fakeHandle
	loadErr error
	opts    runtime.LoadOptions
	gate    chan struct{}
}

func (r *fakeRuntime) Load(ctx context.Context, opts runtime.LoadOptions) (runtime.Handle, error) {
	r.opts = opts
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.handle, nil
}

// fakeHandle uses a byte vocabulary and appends reply to every prompt, so the
// decoded text is the full template followed by reply.
type fakeHandle struct {
	reply     string
	encodeErr error
	genErr    error
	decodeErr error
	panicGen  bool
	gate      chan struct{}

	mu      sync.Mutex
	lastCfg runtime.GenerationConfig
	active  atomic.Int32
	maxSeen atomic.Int32
	closed  atomic.Bool

	sawDeadline atomic.Bool
}

func (h *fakeHandle) Encode(ctx context.Context, text string) (runtime.Tokens, error) {
	if h.closed.Load() {
		return nil, runtime.ErrClosed
	}
	if h.encodeErr != nil {
		return nil, h.encodeErr
	}
	out := make(runtime.Tokens, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int32(text[i])
	}
	return out, nil
}

func (h *fakeHandle) Generate(ctx context.Context, in runtime.Tokens, cfg runtime.GenerationConfig) (runtime.Tokens, error) {
	n := h.active.Add(1)
	defer h.active.Add(-1)
	for {
		cur := h.maxSeen.Load()
		if n <= cur || h.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if _, ok := ctx.Deadline(); ok {
		h.sawDeadline.Store(true)
	}
	h.mu.Lock()
	h.lastCfg = cfg
	h.mu.Unlock()
	if h.gate != nil {
		<-h.gate
	}
	if h.panicGen {
		panic("boom")
	}
	if h.genErr != nil {
		return nil, h.genErr
	}
	out := append(runtime.Tokens{}, in...)
	for i := 0; i < len(h.reply); i++ {
		out = append(out, int32(h.reply[i]))
	}
	return out, nil
}

func (h *fakeHandle) Decode(ctx context.Context, toks runtime.Tokens, skipSpecial bool) (string, error) {
	if h.decodeErr != nil {
		return "", h.decodeErr
	}
	b := make([]byte, len(toks))
	for i, t := range toks {
		b[i] = byte(t)
	}
	return string(b), nil
}

func (h *fakeHandle) Placement() runtime.Placement {
	return runtime.Placement{Device: "cpu", Precision: runtime.PrecisionF32}
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *fakeHandle) cfg() runtime.GenerationConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCfg
}

var errOOM = errors.New("CUDA out of memory")

// newLoaded returns a ready Manager backed by h.
func newLoaded(t *testing.T, h *fakeHandle, cfg Config) *Manager {
	t.Helper()
	cfg.Runtime = &fakeRuntime{handle: h}
	if cfg.ModelID == "" {
		cfg.ModelID = "test-model"
	}
	m := New(cfg)
	if err := m.Load(testCtx(t)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return m
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", d)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
