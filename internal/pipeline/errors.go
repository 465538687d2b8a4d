package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a Failure.
type Kind string

const (
	// ResourceLoadError: the model resource could not be acquired.
	ResourceLoadError Kind = "resource_load_error"
	// TranscriptionError: any failure while turning an image into text.
	TranscriptionError Kind = "transcription_error"
	// InputFormatError: the input is not a decodable image.
	InputFormatError Kind = "input_format_error"
)

// ErrInputFormat marks causes that stem from the input image.
var ErrInputFormat = errors.New("unsupported or empty image")

// Failure is the single error type surfaced by the pipeline.
type Failure struct {
	Kind    Kind
	Stage   State
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	switch f.Kind {
	case ResourceLoadError:
		return "failed to load model: " + msg
	case TranscriptionError:
		return "error during transcription: " + msg
	case InputFormatError:
		return "invalid image: " + msg
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// StatusCode maps the failure onto an HTTP status.
func (f *Failure) StatusCode() int {
	switch f.Kind {
	case InputFormatError:
		return http.StatusBadRequest
	case ResourceLoadError:
		return http.StatusServiceUnavailable
	}
	if errors.Is(f.Err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func newFailure(kind Kind, stage State, err error) *Failure {
	f := &Failure{Kind: kind, Stage: stage, Err: err}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

// LoadFailure wraps err as a ResourceLoadError.
func LoadFailure(err error) *Failure { return newFailure(ResourceLoadError, "", err) }

// InputFailure wraps err as an InputFormatError.
func InputFailure(format string, args ...any) *Failure {
	err := fmt.Errorf("%w: "+format, append([]any{ErrInputFormat}, args...)...)
	return newFailure(InputFormatError, "", err)
}

func asFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// KindOf returns the failure kind of err, or "" when err is not a Failure.
func KindOf(err error) Kind {
	if f, ok := asFailure(err); ok {
		return f.Kind
	}
	return ""
}

// IsResourceLoad reports whether err is a ResourceLoadError.
func IsResourceLoad(err error) bool { return KindOf(err) == ResourceLoadError }

// IsTranscription reports whether err is a TranscriptionError.
func IsTranscription(err error) bool { return KindOf(err) == TranscriptionError }

// IsInputFormat reports whether err is an InputFormatError.
func IsInputFormat(err error) bool { return KindOf(err) == InputFormatError }
