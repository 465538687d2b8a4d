package types

// Model is a weight file found in the local cache.
type Model struct {
	// Stable identifier (file name without extension).
	// example: Qwen2.5-VL-7B-Instruct-f16
	ID string `json:"id" example:"Qwen2.5-VL-7B-Instruct-f16"`
	// Absolute path of the file on disk.
	// example: /home/user/.cache/handscribe/ggml-org--Qwen2.5-VL-7B-Instruct-GGUF/Qwen2.5-VL-7B-Instruct-f16.gguf
	Path string `json:"path" example:"/home/user/.cache/handscribe/ggml-org--Qwen2.5-VL-7B-Instruct-GGUF/Qwen2.5-VL-7B-Instruct-f16.gguf"`
	// Repository directory the file was fetched from.
	// example: ggml-org/Qwen2.5-VL-7B-Instruct-GGUF
	Repo string `json:"repo,omitempty" example:"ggml-org/Qwen2.5-VL-7B-Instruct-GGUF"`
	// Role of the file: "model" or "projector".
	// example: model
	Role string `json:"role" example:"model"`
	// Weight precision or quantization variant.
	// example: f16
	Precision string `json:"precision" example:"f16"`
	// File size in bytes.
	// example: 15237849088
	SizeBytes int64 `json:"size_bytes" example:"15237849088"`
}
