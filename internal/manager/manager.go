package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"assistd/internal/runtime"
)

// Manager holds at most one loaded model handle and runs generations on it
// one at a time.
type Manager struct {
	mu        sync.RWMutex
	state     State
	handle    runtime.Handle
	placement runtime.Placement
	err       string
	loadedAt  time.Time
	// admitting counts callers between the state check and a held queue slot.
	admitting int

	cfg       Config
	publisher EventPublisher
	metrics   *Metrics
	log       zerolog.Logger

	// Admission primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots

	generations atomic.Uint64
	startTime   time.Time
}

// New constructs a Manager in the unloaded state.
func New(cfg Config) *Manager {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	m := &Manager{
		state:     StateUnloaded,
		cfg:       cfg,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		log:       cfg.Logger.With().Str("component", "manager").Str("model", cfg.ModelID).Logger(),
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, cfg.MaxQueueDepth),
		startTime: time.Now(),
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}

// Ready reports whether a handle has finished loading and is serving.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.handle != nil
}

// ModelID returns the configured model identifier.
func (m *Manager) ModelID() string { return m.cfg.ModelID }

// AcceleratorAvailable reports whether an accelerator was detected on the host.
func (m *Manager) AcceleratorAvailable() bool { return m.cfg.AcceleratorAvailable }

// Placement returns the handle's placement and whether a handle is loaded.
func (m *Manager) Placement() (runtime.Placement, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle == nil {
		return runtime.Placement{}, false
	}
	return m.placement, true
}

func (m *Manager) readyHandle() (runtime.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady || m.handle == nil {
		return nil, modelUnavailableError{state: m.state}
	}
	return m.handle, nil
}
