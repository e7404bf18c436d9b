package manager

import (
	"time"

	"github.com/rs/zerolog"

	"assistd/internal/runtime"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// Generation defaults used when a request leaves a parameter out.
const (
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.4
	DefaultTopP        = 0.9
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Runtime   runtime.Runtime
	ModelID   string
	ModelPath string
	Precision runtime.Precision
	Device    runtime.DevicePolicy
	// Resolve maps ModelID to local weights when ModelPath is empty.
	Resolve func(modelID string) (string, error)

	MaxQueueDepth int
	MaxWait       time.Duration
	// LoadTimeout bounds Load; zero means no bound beyond the caller's ctx.
	LoadTimeout time.Duration
	// GenerationTimeout bounds a detached generation; zero means unbounded.
	GenerationTimeout time.Duration
	DrainTimeout      time.Duration

	// AcceleratorAvailable is reported on /health as cuda_available.
	AcceleratorAvailable bool

	Publisher EventPublisher
	Metrics   *Metrics
	Logger    zerolog.Logger
}

// GenerationConfig returns the sampling settings used for one request:
// sampling on, nucleus threshold DefaultTopP, EOS as pad token.
func GenerationConfig(maxTokens int, temperature float64) runtime.GenerationConfig {
	return runtime.GenerationConfig{
		MaxNewTokens: maxTokens,
		Temperature:  temperature,
		TopP:         DefaultTopP,
		DoSample:     true,
		PadWithEOS:   true,
	}
}

// DefaultGenerationConfig is GenerationConfig with both defaults applied.
func DefaultGenerationConfig() runtime.GenerationConfig {
	return GenerationConfig(DefaultMaxTokens, DefaultTemperature)
}
