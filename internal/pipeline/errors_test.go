package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFailure_StatusCodes(t *testing.T) {
	cases := []struct {
		f    *Failure
		want int
	}{
		{InputFailure("bad header"), http.StatusBadRequest},
		{LoadFailure(errBoom), http.StatusServiceUnavailable},
		{newFailure(TranscriptionError, StateGenerating, errBoom), http.StatusInternalServerError},
		{newFailure(TranscriptionError, StateGenerating, fmt.Errorf("x: %w", context.DeadlineExceeded)), http.StatusGatewayTimeout},
	}
	for _, c := range cases {
		if got := c.f.StatusCode(); got != c.want {
			t.Errorf("%s: status %d, want %d", c.f.Kind, got, c.want)
		}
	}
}

func TestFailure_Predicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", LoadFailure(errBoom))
	if !IsResourceLoad(wrapped) || IsTranscription(wrapped) || IsInputFormat(wrapped) {
		t.Fatalf("predicates wrong for %v", wrapped)
	}
	in := InputFailure("format %q", "xyz")
	if !IsInputFormat(in) || !errors.Is(in, ErrInputFormat) {
		t.Fatalf("input failure = %v", in)
	}
	if KindOf(errBoom) != "" {
		t.Fatalf("plain error has a kind")
	}
}

func TestFailure_Messages(t *testing.T) {
	if got := LoadFailure(errBoom).Error(); got != "failed to load model: boom" {
		t.Fatalf("load message = %q", got)
	}
	if got := newFailure(TranscriptionError, "", errBoom).Error(); got != "error during transcription: boom" {
		t.Fatalf("transcription message = %q", got)
	}
}
