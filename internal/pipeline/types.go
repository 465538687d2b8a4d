package pipeline

import (
	"context"
	"image"
	"io"
	"time"

	"handscribe/internal/device"
	"handscribe/internal/hub"
)

// State is a stage of a single transcription.
type State string

const (
	StateIdle          State = "idle"
	StatePreprocessing State = "preprocessing"
	StateEncoding      State = "encoding"
	StateGenerating    State = "generating"
	StateDecoding      State = "decoding"
	StateSuccess       State = "success"
	StateFailed        State = "failed"
)

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one element of a turn: either an image or a text.
type Part struct {
	Image image.Image
	Text  string
}

// IsImage reports whether p carries an image.
func (p Part) IsImage() bool { return p.Image != nil }

// Message is a conversation turn.
type Message struct {
	Role  Role
	Parts []Part
}

// Inputs is the model-ready form of a conversation.
type Inputs struct {
	// IDs is the tokenized templated prompt.
	IDs []int
	// Prompt is the templated prompt text, media markers included.
	Prompt string
	// Images are PNG-encoded, in marker order.
	Images [][]byte
	Device device.Info
}

// GenerateParams bound a generation call.
type GenerateParams struct {
	Sample       bool
	Temperature  float64
	TopP         float64
	MaxNewTokens int
	EOS          string
}

// Result is a successful transcription.
type Result struct {
	ID        string        `json:"id"`
	Markdown  string        `json:"markdown"`
	NewTokens int           `json:"new_tokens"`
	Elapsed   time.Duration `json:"elapsed"`
	Backend   string        `json:"backend"`
}

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Tokenize(ctx context.Context, text string) ([]int, error)
	Detokenize(ctx context.Context, ids []int) (string, error)
	// IsSpecial reports whether id is a control token.
	IsSpecial(id int) bool
	// EOS is the end-of-sequence token text.
	EOS() string
}

// Generator runs the model. The returned sequence starts with in.IDs followed
// by the newly generated ids.
type Generator interface {
	Generate(ctx context.Context, in Inputs, p GenerateParams) ([]int, error)
}

// Backend is a bound model runtime.
type Backend interface {
	Tokenizer
	Generator
	io.Closer
}

// BindSpec names the weight files to bind to a device.
type BindSpec struct {
	ModelPath     string
	ProjectorPath string
	Device        device.Info
}

// Binder starts a runtime for the given weights.
type Binder interface {
	Bind(ctx context.Context, spec BindSpec) (Backend, error)
}

// Fetcher resolves a weight file to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, file string, mode hub.Mode) (string, error)
}

// Resource is the loaded model handle. It is never mutated after creation and
// is shared read-only by concurrent transcriptions.
type Resource struct {
	Generator     Generator
	Preprocessor  *Preprocessor
	Device        device.Info
	Precision     device.Precision
	ModelPath     string
	ProjectorPath string
	Transfer      hub.Mode
	LoadedAt      time.Time
	LoadDuration  time.Duration

	closer io.Closer
}

// Close releases the runtime behind the resource.
func (r *Resource) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
