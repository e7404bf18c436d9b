// Package manager owns the loaded model and serializes inference against it.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: lifecycle states and the Snapshot projection.
//   - errors.go: error types and helpers (IsModelUnavailable, IsTooBusy, ...).
//   - load.go: one-shot model load and the unloaded/loading/ready state machine.
//   - admission.go: bounded FIFO queue plus the single in-flight generation slot.
//   - respond.go: template, encode, generate, decode and extract for one message.
//   - close.go: graceful drain and release of the model handle.
//   - status_report.go: Snapshot/Status reporting helpers.
//   - metrics.go, events.go: prometheus collectors and lifecycle events.
//
// External packages should use the exported methods only (New, Load, Respond,
// Complete, Ready, Status, Close).
package manager
