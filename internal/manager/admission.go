package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func that must be called exactly once on success.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	// The state check and the admitting count change under one lock, so a
	// request Close has not seen yet is still counted until it holds a queue
	// slot. Draining rejects new work so Close can finish.
	m.mu.Lock()
	switch m.state {
	case StateReady:
	case StateDraining:
		m.mu.Unlock()
		return func() {}, tooBusyError{modelID: m.cfg.ModelID}
	default:
		state := m.state
		m.mu.Unlock()
		return func() {}, modelUnavailableError{state: state}
	}
	m.admitting++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.admitting--
		m.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()
	select {
	case m.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{modelID: m.cfg.ModelID}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-m.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.cfg.MaxWait)
	defer timer2.Stop()
	select {
	case m.genCh <- struct{}{}:
		acquired = true
		return func() { <-m.genCh; <-m.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{modelID: m.cfg.ModelID}
	}
}
