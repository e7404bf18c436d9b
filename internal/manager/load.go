package manager

import (
	"context"
	"errors"
	"time"

	"assistd/internal/runtime"
)

// Load resolves and loads the configured model. It may run once; any later
// call returns ErrLoadStarted. On failure the state becomes StateLoadFailed
// and the returned error is a *LoadError.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUnloaded {
		m.mu.Unlock()
		return ErrLoadStarted
	}
	m.state = StateLoading
	m.mu.Unlock()
	m.metrics.setState(StateLoading)
	m.publisher.Publish(Event{Name: "load_start", ModelID: m.cfg.ModelID, Fields: map[string]any{}})
	m.log.Info().Str("event", "load_start").Msg("loading model")

	start := time.Now()
	h, err := m.load(ctx)
	if err != nil {
		lerr := &LoadError{ModelID: m.cfg.ModelID, Err: err}
		m.mu.Lock()
		m.state = StateLoadFailed
		m.err = err.Error()
		m.mu.Unlock()
		m.metrics.setState(StateLoadFailed)
		m.publisher.Publish(Event{Name: "load_failed", ModelID: m.cfg.ModelID, Fields: map[string]any{"error": err.Error()}})
		m.log.Error().Err(err).Str("event", "load_failed").Msg("model load failed")
		return lerr
	}

	pl := h.Placement()
	m.mu.Lock()
	if m.state == StateDraining {
		m.mu.Unlock()
		_ = h.Close()
		m.log.Info().Str("event", "load_discarded").Msg("manager closed while loading; handle released")
		return &LoadError{ModelID: m.cfg.ModelID, Err: errClosedWhileLoading}
	}
	m.handle = h
	m.placement = pl
	m.state = StateReady
	m.loadedAt = time.Now()
	m.mu.Unlock()
	m.metrics.setState(StateReady)
	m.publisher.Publish(Event{Name: "load_done", ModelID: m.cfg.ModelID, Fields: map[string]any{
		"device":    pl.Device,
		"precision": string(pl.Precision),
		"ms":        time.Since(start).Milliseconds(),
	}})
	m.log.Info().Str("event", "load_done").Str("device", pl.Device).Str("precision", string(pl.Precision)).
		Dur("took", time.Since(start)).Msg("model ready")
	return nil
}

var errClosedWhileLoading = errors.New("manager closed while loading")

func (m *Manager) load(ctx context.Context) (runtime.Handle, error) {
	if m.cfg.Runtime == nil {
		return nil, errors.New("no model runtime configured")
	}
	path := m.cfg.ModelPath
	if path == "" && m.cfg.Resolve != nil {
		p, err := m.cfg.Resolve(m.cfg.ModelID)
		if err != nil {
			return nil, err
		}
		path = p
	}
	if m.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.LoadTimeout)
		defer cancel()
	}
	return m.cfg.Runtime.Load(ctx, runtime.LoadOptions{
		ModelID:   m.cfg.ModelID,
		ModelPath: path,
		Precision: m.cfg.Precision,
		Device:    m.cfg.Device,
	})
}
