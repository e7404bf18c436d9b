package manager

import (
	"time"

	"assistd/internal/runtime"
)

// State is the lifecycle state of the model held by the Manager.
type State string

const (
	StateUnloaded   State = "unloaded"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateLoadFailed State = "load_failed"
	StateDraining   State = "draining"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State     State
	ModelID   string
	Placement runtime.Placement
	Err       string
	LoadedAt  time.Time
}

// Result is the full outcome of one generation.
type Result struct {
	ID           string
	Prompt       string
	Decoded      string
	Response     string
	PromptTokens int
	NewTokens    int
	Duration     time.Duration
}
