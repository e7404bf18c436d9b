package types

// Model is a GGUF weights file discovered under the models directory.
type Model struct {
	// Identifier derived from the file name.
	// example: mistral-7b-instruct-v0.2.Q4_K_M
	ID string `json:"id" example:"mistral-7b-instruct-v0.2.Q4_K_M"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/mistral-7b-instruct-v0.2.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/mistral-7b-instruct-v0.2.Q4_K_M.gguf"`
	// Quantization level parsed from the file name, when present.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Size on disk in bytes.
	SizeBytes int64 `json:"size_bytes"`
}
