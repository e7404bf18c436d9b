// Package runtime defines the contract between the inference service and an
// external model runtime. Tokenization, generation and device placement are
// owned by the runtime; callers only see opaque handles and token sequences.
package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Tokens is an ordered sequence of token IDs under the vocabulary of the
// handle that produced it.
type Tokens []int32

// GenerationConfig controls sampling for one generation.
type GenerationConfig struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
	DoSample     bool
	// PadWithEOS asks the runtime to use its end-of-sequence token for padding.
	PadWithEOS bool
}

// Validate reports parameter values no runtime can honour.
func (c GenerationConfig) Validate() error {
	if c.MaxNewTokens <= 0 {
		return fmt.Errorf("max new tokens must be positive, got %d", c.MaxNewTokens)
	}
	if c.DoSample && !(c.Temperature > 0) {
		return fmt.Errorf("temperature must be positive, got %g", c.Temperature)
	}
	if !(c.TopP > 0 && c.TopP <= 1) {
		return fmt.Errorf("top_p must be in (0,1], got %g", c.TopP)
	}
	return nil
}

// LoadOptions describe the model a runtime should load and where.
type LoadOptions struct {
	// ModelID is the public identifier reported to clients.
	ModelID string
	// ModelPath is the resolved local weights file, if the runtime needs one.
	ModelPath string
	Precision Precision
	Device    DevicePolicy
}

// Runtime loads models.
type Runtime interface {
	Load(ctx context.Context, opts LoadOptions) (Handle, error)
}

// Handle is a loaded model with its paired tokenizer, bound to one device.
// Implementations need not be safe for concurrent generation; the inference
// service serializes calls.
type Handle interface {
	Encode(ctx context.Context, text string) (Tokens, error)
	// Generate returns the full sequence: the input followed by the new tokens.
	Generate(ctx context.Context, in Tokens, cfg GenerationConfig) (Tokens, error)
	Decode(ctx context.Context, toks Tokens, skipSpecial bool) (string, error)
	Placement() Placement
	Close() error
}

// ErrClosed is returned by handles used after Close.
var ErrClosed = errors.New("runtime: handle closed")
