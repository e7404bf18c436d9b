package manager

import (
	"time"
)

// Close drains queued and in-flight generations, then releases the handle.
// New requests are rejected with a too-busy error while draining. Close is
// safe to call in any state and more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	h := m.handle
	if h == nil {
		// A load still in flight sees this and releases its handle itself.
		if m.state == StateLoading {
			m.state = StateDraining
		}
		m.mu.Unlock()
		return nil
	}
	m.state = StateDraining
	m.mu.Unlock()
	m.metrics.setState(StateDraining)
	m.publisher.Publish(Event{Name: "drain_start", ModelID: m.cfg.ModelID, Fields: map[string]any{}})

	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for {
		m.mu.RLock()
		admitting := m.admitting
		m.mu.RUnlock()
		qlen := len(m.queueCh)
		inflight := len(m.genCh)
		if inflight == 0 && qlen == 0 && admitting == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.publisher.Publish(Event{Name: "drain_timeout", ModelID: m.cfg.ModelID, Fields: map[string]any{"inflight": inflight, "queue": qlen, "admitting": admitting}})
			m.log.Warn().Int("inflight", inflight).Int("queue", qlen).Int("admitting", admitting).Msg("drain timed out; closing handle anyway")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	err := h.Close()
	m.mu.Lock()
	m.handle = nil
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "drain_done", ModelID: m.cfg.ModelID, Fields: map[string]any{}})
	m.log.Info().Str("event", "drain_done").Msg("model handle released")
	return err
}
