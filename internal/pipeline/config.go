package pipeline

import (
	"time"

	"handscribe/internal/device"
)

// Instruction is the fixed transcription prompt.
const Instruction = "Please transcribe the handwritten text in this image accurately. " +
	"Output the text in markdown format, preserving any formatting like lists, headers, " +
	"or emphasis that you can identify from the handwriting."

// Defaults applied when corresponding config fields are unset.
const (
	DefaultMaxNewTokens = 1024
	DefaultTemperature  = 0.1
	DefaultTopP         = 0.9
	DefaultTimeout      = 300 * time.Second
)

// LoaderConfig selects the device and the weight files per precision.
type LoaderConfig struct {
	Device        device.Preference
	ModelHalf     string
	ModelFull     string
	ProjectorHalf string
	ProjectorFull string
}

// Files returns the model and projector file names for precision p.
func (c LoaderConfig) Files(p device.Precision) (model, projector string) {
	if p == device.Half {
		return c.ModelHalf, c.ProjectorHalf
	}
	return c.ModelFull, c.ProjectorFull
}

// EngineConfig bounds a transcription.
type EngineConfig struct {
	Instruction string
	// Greedy disables sampling.
	Greedy       bool
	Temperature  float64
	TopP         float64
	MaxNewTokens int
	Timeout      time.Duration
}

// DefaultEngineConfig returns the decoding parameters used for transcription.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Instruction:  Instruction,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		MaxNewTokens: DefaultMaxNewTokens,
		Timeout:      DefaultTimeout,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Instruction == "" {
		c.Instruction = d.Instruction
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.TopP <= 0 {
		c.TopP = d.TopP
	}
	if c.MaxNewTokens <= 0 || c.MaxNewTokens > d.MaxNewTokens {
		c.MaxNewTokens = d.MaxNewTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
