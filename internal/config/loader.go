package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service and the CLI.
// Zero values mean "unspecified" and are replaced by FillDefaults.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Weights
	HubEndpoint   string `json:"hub_endpoint" yaml:"hub_endpoint" toml:"hub_endpoint"`
	ModelRepo     string `json:"model_repo" yaml:"model_repo" toml:"model_repo"`
	Revision      string `json:"revision" yaml:"revision" toml:"revision"`
	CacheDir      string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	ModelHalf     string `json:"model_file_half" yaml:"model_file_half" toml:"model_file_half"`
	ModelFull     string `json:"model_file_full" yaml:"model_file_full" toml:"model_file_full"`
	ProjectorHalf string `json:"projector_file_half" yaml:"projector_file_half" toml:"projector_file_half"`
	ProjectorFull string `json:"projector_file_full" yaml:"projector_file_full" toml:"projector_file_full"`
	HFTokenFile   string `json:"hf_token_file" yaml:"hf_token_file" toml:"hf_token_file"`
	TransferConns int    `json:"transfer_connections" yaml:"transfer_connections" toml:"transfer_connections"`

	// Device: auto|gpu|cpu
	Device    string `json:"device" yaml:"device" toml:"device"`
	NvidiaSMI string `json:"nvidia_smi" yaml:"nvidia_smi" toml:"nvidia_smi"`

	// llama-server runtime
	LlamaBin       string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaURL       string   `json:"llama_url" yaml:"llama_url" toml:"llama_url"`
	LlamaHost      string   `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	LlamaPortStart int      `json:"llama_port_start" yaml:"llama_port_start" toml:"llama_port_start"`
	LlamaPortEnd   int      `json:"llama_port_end" yaml:"llama_port_end" toml:"llama_port_end"`
	LlamaCtxSize   int      `json:"llama_ctx_size" yaml:"llama_ctx_size" toml:"llama_ctx_size"`
	LlamaThreads   int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaExtraArgs []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args"`
	ReadySeconds   int      `json:"llama_ready_timeout_seconds" yaml:"llama_ready_timeout_seconds" toml:"llama_ready_timeout_seconds"`

	// Transcription
	TimeoutSeconds int `json:"transcribe_timeout_seconds" yaml:"transcribe_timeout_seconds" toml:"transcribe_timeout_seconds"`

	// HTTP front-end
	MaxUploadMB    int      `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
	MaxInflight    int      `json:"max_inflight" yaml:"max_inflight" toml:"max_inflight"`
	MaxQueueDepth  int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds int      `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	CORSEnabled    bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins    []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`

	// Remote (OpenAI-compatible) backend for the CLI
	OpenAIBaseURL    string `json:"openai_base_url" yaml:"openai_base_url" toml:"openai_base_url"`
	OpenAIModel      string `json:"openai_model" yaml:"openai_model" toml:"openai_model"`
	OpenAIAPIKeyFile string `json:"openai_api_key_file" yaml:"openai_api_key_file" toml:"openai_api_key_file"`
}

// Defaults returns the configuration used when nothing else is specified.
func Defaults() Config {
	return Config{
		Addr:           ":8000",
		LogLevel:       "info",
		HubEndpoint:    "https://huggingface.co",
		ModelRepo:      "ggml-org/Qwen2.5-VL-7B-Instruct-GGUF",
		Revision:       "main",
		CacheDir:       "~/.cache/handscribe",
		ModelHalf:      "Qwen2.5-VL-7B-Instruct-f16.gguf",
		ModelFull:      "Qwen2.5-VL-7B-Instruct-f32.gguf",
		ProjectorHalf:  "mmproj-Qwen2.5-VL-7B-Instruct-f16.gguf",
		ProjectorFull:  "mmproj-Qwen2.5-VL-7B-Instruct-f32.gguf",
		TransferConns:  8,
		Device:         "auto",
		NvidiaSMI:      "nvidia-smi",
		LlamaBin:       "llama-server",
		LlamaHost:      "127.0.0.1",
		LlamaCtxSize:   8192,
		ReadySeconds:   600,
		TimeoutSeconds: 300,
		MaxUploadMB:    20,
		MaxInflight:    1,
		MaxQueueDepth:  8,
		MaxWaitSeconds: 120,
		OpenAIBaseURL:  "https://api.openai.com/v1",
		OpenAIModel:    "gpt-4o",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// FillDefaults replaces unspecified (zero) fields with Defaults().
func (c *Config) FillDefaults() {
	d := Defaults()
	setStr := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	setInt := func(dst *int, def int) {
		if *dst <= 0 {
			*dst = def
		}
	}
	setStr(&c.Addr, d.Addr)
	setStr(&c.LogLevel, d.LogLevel)
	setStr(&c.HubEndpoint, d.HubEndpoint)
	setStr(&c.ModelRepo, d.ModelRepo)
	setStr(&c.Revision, d.Revision)
	setStr(&c.CacheDir, d.CacheDir)
	setStr(&c.ModelHalf, d.ModelHalf)
	setStr(&c.ModelFull, d.ModelFull)
	setStr(&c.ProjectorHalf, d.ProjectorHalf)
	setStr(&c.ProjectorFull, d.ProjectorFull)
	setInt(&c.TransferConns, d.TransferConns)
	setStr(&c.Device, d.Device)
	setStr(&c.NvidiaSMI, d.NvidiaSMI)
	setStr(&c.LlamaBin, d.LlamaBin)
	setStr(&c.LlamaHost, d.LlamaHost)
	setInt(&c.LlamaCtxSize, d.LlamaCtxSize)
	setInt(&c.ReadySeconds, d.ReadySeconds)
	setInt(&c.TimeoutSeconds, d.TimeoutSeconds)
	setInt(&c.MaxUploadMB, d.MaxUploadMB)
	setInt(&c.MaxInflight, d.MaxInflight)
	setInt(&c.MaxQueueDepth, d.MaxQueueDepth)
	setInt(&c.MaxWaitSeconds, d.MaxWaitSeconds)
	setStr(&c.OpenAIBaseURL, d.OpenAIBaseURL)
	setStr(&c.OpenAIModel, d.OpenAIModel)
}

// ApplyEnv overrides fields from HANDSCRIBE_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	str("HANDSCRIBE_ADDR", &c.Addr)
	str("HANDSCRIBE_LOG_LEVEL", &c.LogLevel)
	str("HANDSCRIBE_MODEL_REPO", &c.ModelRepo)
	str("HANDSCRIBE_CACHE_DIR", &c.CacheDir)
	str("HANDSCRIBE_DEVICE", &c.Device)
	str("HANDSCRIBE_LLAMA_BIN", &c.LlamaBin)
	str("HANDSCRIBE_LLAMA_URL", &c.LlamaURL)
	num("HANDSCRIBE_TIMEOUT_SECONDS", &c.TimeoutSeconds)
	num("HANDSCRIBE_MAX_UPLOAD_MB", &c.MaxUploadMB)
	str("HF_ENDPOINT", &c.HubEndpoint)
}
