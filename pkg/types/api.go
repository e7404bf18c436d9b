package types

// ChatRequest is the POST /chat payload. Optional fields are pointers so an
// explicit zero can be told apart from an omitted value.
type ChatRequest struct {
	// User message to answer.
	// example: I feel anxious today
	Message *string `json:"message" example:"I feel anxious today"`
	// Maximum number of new tokens to generate. Defaults to 200.
	// example: 200
	MaxTokens *int `json:"max_tokens,omitempty" example:"200"`
	// Sampling temperature. Defaults to 0.4.
	// example: 0.4
	Temperature *float64 `json:"temperature,omitempty" example:"0.4"`
}

// ChatResponse is returned by POST /chat on success.
type ChatResponse struct {
	// Extracted assistant reply.
	// example: Stay calm, take a breath.
	Response string `json:"response" example:"Stay calm, take a breath."`
	// Always "success".
	// example: success
	Status string `json:"status" example:"success"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	// example: online
	Status string `json:"status" example:"online"`
	// Configured model identifier.
	// example: mistralai/Mistral-7B-Instruct-v0.2
	Model string `json:"model" example:"mistralai/Mistral-7B-Instruct-v0.2"`
	// Device the model is placed on, or "not loaded".
	// example: cuda:0
	Device string `json:"device" example:"cuda:0"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// example: true
	TokenizerLoaded bool `json:"tokenizer_loaded" example:"true"`
	// Device the model is placed on; null until loaded.
	// example: cpu
	Device *string `json:"device" example:"cpu"`
	// Whether an accelerator was detected on the host.
	// example: false
	CUDAAvailable bool `json:"cuda_available" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: Model not loaded
	Detail string `json:"detail" example:"Model not loaded"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Model lifecycle state (unloaded, loading, ready, load_failed, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: mistralai/Mistral-7B-Instruct-v0.2
	ModelID string `json:"model_id" example:"mistralai/Mistral-7B-Instruct-v0.2"`
	// example: cuda:0
	Device string `json:"device,omitempty" example:"cuda:0"`
	// example: f16
	Precision string `json:"precision,omitempty" example:"f16"`
	// Load failure message, if any.
	Error string `json:"error,omitempty"`
	// When the model became ready (unix seconds).
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix,omitempty" example:"1700000000"`
	// Requests holding a queue slot, including the in-flight one.
	// example: 1
	QueueLen int `json:"queue_len" example:"1"`
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Completed generations since start, successful or not.
	// example: 12
	Generations uint64 `json:"generations_total" example:"12"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}
