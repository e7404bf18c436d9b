package manager

import (
	"time"

	"assistd/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, ModelID: m.cfg.ModelID, Placement: m.placement, Err: m.err, LoadedAt: m.loadedAt}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:         string(m.state),
		ModelID:       m.cfg.ModelID,
		Error:         m.err,
		QueueLen:      len(m.queueCh),
		Inflight:      len(m.genCh),
		MaxQueueDepth: cap(m.queueCh),
		Generations:   m.generations.Load(),
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
	}
	if m.handle != nil {
		resp.Device = m.placement.Device
		resp.Precision = string(m.placement.Precision)
	}
	if !m.loadedAt.IsZero() {
		resp.LoadedAt = m.loadedAt.Unix()
	}
	return resp
}
