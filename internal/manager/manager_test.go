package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"assistd/internal/runtime"
)

func TestNewDefaults(t *testing.T) {
	m := New(Config{})
	if m.cfg.MaxWait != defaultMaxWait {
		t.Fatalf("expected default maxWait=%v got %v", defaultMaxWait, m.cfg.MaxWait)
	}
	if cap(m.queueCh) != defaultMaxQueueDepth {
		t.Fatalf("expected default queue depth=%d got %d", defaultMaxQueueDepth, cap(m.queueCh))
	}
	if m.Snapshot().State != StateUnloaded {
		t.Fatalf("expected unloaded, got %s", m.Snapshot().State)
	}
}

func TestDefaultGenerationConfig(t *testing.T) {
	gc := DefaultGenerationConfig()
	if gc.MaxNewTokens != 200 || gc.Temperature != 0.4 || gc.TopP != 0.9 {
		t.Fatalf("unexpected defaults: %+v", gc)
	}
	if !gc.DoSample || !gc.PadWithEOS {
		t.Fatalf("sampling and EOS padding must be on: %+v", gc)
	}
}

func TestRespondBeforeLoad(t *testing.T) {
	m := New(Config{ModelID: "m", Runtime: &fakeRuntime{handle: &fakeHandle{reply: "x"}}})
	_, err := m.Respond(context.Background(), "hello", DefaultGenerationConfig())
	if !IsModelUnavailable(err) {
		t.Fatalf("expected model unavailable, got %v", err)
	}
	if err.Error() != "Model not loaded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRespondWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	m := New(Config{ModelID: "m", Runtime: &fakeRuntime{handle: &fakeHandle{reply: "x"}, gate: gate}})
	done := make(chan error, 1)
	go func() { done <- m.Load(context.Background()) }()
	waitFor(t, time.Second, func() bool { return m.Snapshot().State == StateLoading })
	if m.Ready() {
		t.Fatalf("must not be ready while loading")
	}
	if _, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig()); !IsModelUnavailable(err) {
		t.Fatalf("expected model unavailable while loading, got %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("expected ready after load")
	}
}

func TestCloseWhileLoadingReleasesHandle(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHandle{reply: "x"}
	m := New(Config{ModelID: "m", Runtime: &fakeRuntime{handle: h, gate: gate}})
	done := make(chan error, 1)
	go func() { done <- m.Load(context.Background()) }()
	waitFor(t, time.Second, func() bool { return m.Snapshot().State == StateLoading })
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(gate)
	if err := <-done; !IsLoadError(err) {
		t.Fatalf("expected load error after close, got %v", err)
	}
	if !h.closed.Load() {
		t.Fatalf("handle loaded after Close must be released")
	}
	if m.Ready() {
		t.Fatalf("closed manager must not become ready")
	}
}

func TestLoadRunsOnce(t *testing.T) {
	m := newLoaded(t, &fakeHandle{reply: "x"}, Config{})
	if err := m.Load(context.Background()); !errors.Is(err, ErrLoadStarted) {
		t.Fatalf("expected ErrLoadStarted, got %v", err)
	}
}

func TestLoadFailure(t *testing.T) {
	pub := NewMemoryPublisher()
	m := New(Config{ModelID: "m", Runtime: &fakeRuntime{loadErr: errors.New("unsupported hardware")}, Publisher: pub})
	err := m.Load(context.Background())
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported hardware") {
		t.Fatalf("cause missing: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateLoadFailed || snap.Err == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig()); !IsModelUnavailable(err) {
		t.Fatalf("expected model unavailable after failed load, got %v", err)
	}
	if err := m.Load(context.Background()); !errors.Is(err, ErrLoadStarted) {
		t.Fatalf("load must not be retried, got %v", err)
	}
	names := pub.Names()
	if len(names) != 2 || names[0] != "load_start" || names[1] != "load_failed" {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestLoadWithoutRuntime(t *testing.T) {
	if err := New(Config{ModelID: "m"}).Load(context.Background()); !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestLoadResolvesModelPath(t *testing.T) {
	rt := &fakeRuntime{handle: &fakeHandle{}}
	m := New(Config{
		ModelID:   "org/my-model",
		Runtime:   rt,
		Precision: runtime.PrecisionF16,
		Device:    runtime.DeviceCUDA,
		Resolve: func(id string) (string, error) {
			return "/models/" + id + ".gguf", nil
		},
	})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if rt.opts.ModelPath != "/models/org/my-model.gguf" || rt.opts.Precision != runtime.PrecisionF16 || rt.opts.Device != runtime.DeviceCUDA {
		t.Fatalf("unexpected load options %+v", rt.opts)
	}

	rt = &fakeRuntime{handle: &fakeHandle{}}
	m = New(Config{ModelID: "x", Runtime: rt, Resolve: func(string) (string, error) { return "", errors.New("no such model") }})
	if err := m.Load(context.Background()); !IsLoadError(err) {
		t.Fatalf("expected LoadError from resolver, got %v", err)
	}
}

func TestRespondEndToEnd(t *testing.T) {
	h := &fakeHandle{reply: "### Response:\nStay calm, take a breath."}
	m := newLoaded(t, h, Config{})
	got, err := m.Respond(testCtx(t), "I feel anxious today", GenerationConfig(50, 0.4))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "Stay calm, take a breath." {
		t.Fatalf("got %q", got)
	}
	cfg := h.cfg()
	if cfg.MaxNewTokens != 50 || cfg.Temperature != 0.4 || cfg.TopP != 0.9 || !cfg.DoSample || !cfg.PadWithEOS {
		t.Fatalf("unexpected generation config %+v", cfg)
	}
}

func TestCompleteReturnsArtifacts(t *testing.T) {
	h := &fakeHandle{reply: " Breathe."}
	m := newLoaded(t, h, Config{})
	res, err := m.Complete(testCtx(t), "hi", DefaultGenerationConfig())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.ID == "" {
		t.Fatalf("expected generation id")
	}
	if !strings.HasSuffix(res.Decoded, "### Response:\n Breathe.") || res.Response != "Breathe." {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.PromptTokens != len(res.Prompt) || res.NewTokens != len(" Breathe.") {
		t.Fatalf("unexpected token counts %d/%d", res.PromptTokens, res.NewTokens)
	}
}

func TestRespondGenerationErrors(t *testing.T) {
	cases := []struct {
		name  string
		h     *fakeHandle
		stage string
	}{
		{"encode", &fakeHandle{encodeErr: errors.New("bad input")}, "encode"},
		{"generate", &fakeHandle{genErr: errOOM}, "generate"},
		{"decode", &fakeHandle{decodeErr: errors.New("bad token")}, "decode"},
		{"panic", &fakeHandle{panicGen: true}, "generate"},
		{"validate", &fakeHandle{reply: "x"}, "validate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newLoaded(t, tc.h, Config{})
			gc := DefaultGenerationConfig()
			if tc.stage == "validate" {
				gc.Temperature = 0
			}
			_, err := m.Respond(testCtx(t), "hi", gc)
			var ge *GenerationError
			if !errors.As(err, &ge) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if ge.Stage != tc.stage {
				t.Fatalf("stage = %s, want %s", ge.Stage, tc.stage)
			}
			if ge.StatusCode() != 500 {
				t.Fatalf("status = %d", ge.StatusCode())
			}
			// the slot must be free again
			if len(m.genCh) != 0 || len(m.queueCh) != 0 {
				t.Fatalf("admission slots leaked")
			}
		})
	}
}

func TestGenerationErrorWrapsCause(t *testing.T) {
	m := newLoaded(t, &fakeHandle{genErr: errOOM}, Config{})
	_, err := m.Respond(testCtx(t), "hi", DefaultGenerationConfig())
	if !errors.Is(err, errOOM) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestBackpressureTooBusy(t *testing.T) {
	m := newLoaded(t, &fakeHandle{reply: "x"}, Config{MaxQueueDepth: 1, MaxWait: 10 * time.Millisecond})
	// Saturate queue and gen to force backpressure
	m.queueCh <- struct{}{}
	m.genCh <- struct{}{}
	_, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig())
	if !IsTooBusy(err) {
		t.Fatalf("expected too busy error, got %v", err)
	}
	<-m.genCh
	<-m.queueCh
}

func TestBackpressureWaitingForGenSlot(t *testing.T) {
	m := newLoaded(t, &fakeHandle{reply: "x"}, Config{MaxQueueDepth: 2, MaxWait: 20 * time.Millisecond})
	m.genCh <- struct{}{}
	_, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig())
	if !IsTooBusy(err) {
		t.Fatalf("expected too busy error, got %v", err)
	}
	if len(m.queueCh) != 0 {
		t.Fatalf("queue slot not returned after timeout")
	}
	<-m.genCh
}

func TestGenerationsAreSerialized(t *testing.T) {
	h := &fakeHandle{reply: "ok"}
	m := newLoaded(t, h, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig()); err != nil {
				t.Errorf("respond: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := h.maxSeen.Load(); got != 1 {
		t.Fatalf("expected at most one concurrent generation, saw %d", got)
	}
}

func TestCallerCancelKeepsSlotUntilGenerationEnds(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHandle{reply: "late", gate: gate}
	pub := NewMemoryPublisher()
	m := newLoaded(t, h, Config{Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Respond(ctx, "hi", DefaultGenerationConfig())
		errCh <- err
	}()
	waitFor(t, time.Second, func() bool { return h.active.Load() == 1 })
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Respond did not return after cancel")
	}
	if len(m.genCh) != 1 {
		t.Fatalf("in-flight slot released before generation finished")
	}
	close(gate)
	waitFor(t, time.Second, func() bool { return len(m.genCh) == 0 && len(m.queueCh) == 0 })
	waitFor(t, time.Second, func() bool {
		for _, n := range pub.Names() {
			if n == "generation_done" {
				return true
			}
		}
		return false
	})
}

func TestGenerationTimeout(t *testing.T) {
	h := &fakeHandle{reply: "x"}
	m := newLoaded(t, h, Config{GenerationTimeout: time.Minute})
	if _, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig()); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !h.sawDeadline.Load() {
		t.Fatalf("generation context has no deadline")
	}
}

func TestCloseDrainsAndReleases(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHandle{reply: "x", gate: gate}
	pub := NewMemoryPublisher()
	m := newLoaded(t, h, Config{Publisher: pub})
	go func() { _, _ = m.Respond(context.Background(), "hi", DefaultGenerationConfig()) }()
	waitFor(t, time.Second, func() bool { return h.active.Load() == 1 })

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	waitFor(t, time.Second, func() bool { return m.Snapshot().State == StateDraining })
	if _, err := m.Respond(context.Background(), "again", DefaultGenerationConfig()); err == nil {
		t.Fatalf("expected rejection while draining")
	}
	if h.closed.Load() {
		t.Fatalf("handle closed before in-flight generation finished")
	}
	close(gate)
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	if !h.closed.Load() {
		t.Fatalf("handle not closed")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseWaitsForAdmittedCaller(t *testing.T) {
	h := &fakeHandle{reply: "x"}
	m := newLoaded(t, h, Config{DrainTimeout: 5 * time.Second})
	// A caller that passed the state check but has no queue slot yet.
	m.mu.Lock()
	m.admitting++
	m.mu.Unlock()

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	waitFor(t, time.Second, func() bool { return m.Snapshot().State == StateDraining })
	time.Sleep(30 * time.Millisecond)
	if h.closed.Load() {
		t.Fatalf("handle closed while a caller was still being admitted")
	}
	m.mu.Lock()
	m.admitting--
	m.mu.Unlock()
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	if !h.closed.Load() {
		t.Fatalf("handle not closed")
	}
}

func TestCloseUnderLoadNeverUsesClosedHandle(t *testing.T) {
	h := &fakeHandle{reply: "x"}
	m := newLoaded(t, h, Config{MaxQueueDepth: 64, MaxWait: time.Second})
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := m.Respond(context.Background(), "hi", DefaultGenerationConfig()); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if IsGenerationError(err) || errors.Is(err, runtime.ErrClosed) {
			t.Fatalf("request ran on a closed handle: %v", err)
		}
		if !IsTooBusy(err) && !IsModelUnavailable(err) {
			t.Fatalf("unexpected error after close: %v", err)
		}
	}
}

func TestCloseDrainTimeout(t *testing.T) {
	pub := NewMemoryPublisher()
	m := newLoaded(t, &fakeHandle{reply: "x"}, Config{Publisher: pub, DrainTimeout: 20 * time.Millisecond})
	m.genCh <- struct{}{}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	found := false
	for _, n := range pub.Names() {
		if n == "drain_timeout" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected drain_timeout event, got %v", pub.Names())
	}
	<-m.genCh
}

func TestStatus(t *testing.T) {
	m := newLoaded(t, &fakeHandle{reply: "x"}, Config{ModelID: "m1", MaxQueueDepth: 4})
	if _, err := m.Respond(testCtx(t), "hi", DefaultGenerationConfig()); err != nil {
		t.Fatalf("respond: %v", err)
	}
	st := m.Status()
	if st.State != "ready" || st.ModelID != "m1" || st.Device != "cpu" || st.Precision != "f32" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.MaxQueueDepth != 4 || st.Generations != 1 || st.LoadedAt == 0 {
		t.Fatalf("unexpected counters %+v", st)
	}
	pl, ok := m.Placement()
	if !ok || pl.Device != "cpu" {
		t.Fatalf("placement = %+v, %v", pl, ok)
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := NewMetrics(reg)
	m := newLoaded(t, &fakeHandle{reply: "x"}, Config{Metrics: met})
	if _, err := m.Respond(testCtx(t), "hi", DefaultGenerationConfig()); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got := testutil.ToFloat64(met.outcomes.WithLabelValues("success")); got != 1 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(met.state.WithLabelValues("ready")); got != 1 {
		t.Fatalf("ready gauge = %v", got)
	}
	if got := testutil.ToFloat64(met.state.WithLabelValues("loading")); got != 0 {
		t.Fatalf("loading gauge = %v", got)
	}
}

func TestLoadEventsCarryPlacement(t *testing.T) {
	pub := NewMemoryPublisher()
	newLoaded(t, &fakeHandle{}, Config{Publisher: pub})
	evs := pub.Events()
	if len(evs) != 2 || evs[1].Name != "load_done" || evs[1].Fields["device"] != "cpu" {
		t.Fatalf("unexpected events %+v", evs)
	}
}
