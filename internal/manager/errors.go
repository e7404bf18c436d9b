package manager

import (
	"errors"
	"net/http"
)

// ErrLoadStarted is returned by Load when a load already ran or is running.
var ErrLoadStarted = errors.New("model load already started")

// modelUnavailableError signals a request that arrived before the model was
// ready. The HTTP layer maps it to 503.
type modelUnavailableError struct{ state State }

func (e modelUnavailableError) Error() string { return "Model not loaded" }

func (e modelUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// IsModelUnavailable reports whether err indicates the model is not loaded.
func IsModelUnavailable(err error) bool {
	var e modelUnavailableError
	return errors.As(err, &e)
}

// GenerationError wraps any failure while encoding, generating or decoding.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) StatusCode() int { return http.StatusInternalServerError }

// IsGenerationError reports whether err is a GenerationError.
func IsGenerationError(err error) bool {
	var e *GenerationError
	return errors.As(err, &e)
}

// LoadError is the fatal startup failure. The service must not serve traffic
// after one.
type LoadError struct {
	ModelID string
	Err     error
}

func (e *LoadError) Error() string { return "load model " + e.ModelID + ": " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is a LoadError.
func IsLoadError(err error) bool {
	var e *LoadError
	return errors.As(err, &e)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}
