package types

// TranscribeResponse is returned by POST /api/transcribe.
type TranscribeResponse struct {
	// Transcribed markdown.
	// example: # Shopping list\n- eggs\n- milk
	Markdown string `json:"markdown" example:"# Shopping list\n- eggs\n- milk"`
	// Transcription id.
	// example: 6f1c1f7e-4f7b-4c55-9a43-0d8f3b1f8a2e
	ID string `json:"id,omitempty" example:"6f1c1f7e-4f7b-4c55-9a43-0d8f3b1f8a2e"`
	// Wall time in seconds.
	// example: 12.4
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty" example:"12.4"`
	// Number of generated tokens.
	// example: 57
	NewTokens int `json:"new_tokens,omitempty" example:"57"`
}

// ModelsResponse wraps the list of cached weights returned by GET /models.
type ModelsResponse struct {
	// Cached weight files.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid image: unsupported or empty image
	Error string `json:"error" example:"invalid image: unsupported or empty image"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Failure kind when the error comes from the pipeline.
	// example: input_format_error
	Kind string `json:"kind,omitempty" example:"input_format_error"`
}

// DeviceStatus describes the compute device.
type DeviceStatus struct {
	// Device kind: accelerated or cpu.
	// example: accelerated
	Kind string `json:"kind" example:"accelerated"`
	// Device name.
	// example: NVIDIA GeForce RTX 4090
	Name string `json:"name" example:"NVIDIA GeForce RTX 4090"`
	// Device memory in GB (accelerated only).
	// example: 23.99
	MemoryGB float64 `json:"memory_gb,omitempty" example:"23.99"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall state: loading, ready, error or idle.
	// example: ready
	State string `json:"state" example:"ready"`
	// Selected device; empty until the resource is loaded.
	Device *DeviceStatus `json:"device,omitempty"`
	// Model repository.
	// example: ggml-org/Qwen2.5-VL-7B-Instruct-GGUF
	Repo string `json:"repo" example:"ggml-org/Qwen2.5-VL-7B-Instruct-GGUF"`
	// Local model path.
	Model string `json:"model,omitempty"`
	// Local projector path.
	Projector string `json:"projector,omitempty"`
	// Weight precision.
	// example: f16
	Precision string `json:"precision,omitempty" example:"f16"`
	// Transfer mode used for the download.
	// example: accelerated
	Transfer string `json:"transfer,omitempty" example:"accelerated"`
	// Resource load time in seconds.
	// example: 41.5
	LoadSeconds float64 `json:"load_seconds,omitempty" example:"41.5"`
	// Last load error, if the resource is not loaded.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Admission queue state, when the HTTP server applies one.
	Queue *QueueStatus `json:"queue,omitempty"`
}

// QueueStatus reports the admission gate.
type QueueStatus struct {
	// Requests waiting or running.
	// example: 1
	Queued int `json:"queued" example:"1"`
	// Requests running.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests before backpressure.
	// example: 8
	MaxQueueDepth int `json:"max_queue_depth" example:"8"`
	// Maximum concurrent transcriptions.
	// example: 1
	MaxInflight int `json:"max_inflight" example:"1"`
}
