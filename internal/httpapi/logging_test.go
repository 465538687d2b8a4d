package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("?log=1 override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestRequestLogLevel_Default(t *testing.T) {
	orig := defaultLogLevel
	t.Cleanup(func() { defaultLogLevel = orig })
	SetDefaultLogLevel("info")
	if got := requestLogLevel(httptest.NewRequest("GET", "/x", nil)); got != LevelInfo {
		t.Fatalf("default level=%v", got)
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { SetLogger(zerolog.Nop()) })
	return &buf
}

func TestTranscribe_LogsFailureAtErrorLevel(t *testing.T) {
	buf := captureLogs(t)
	svc := &mockService{err: errors.New("runtime crashed")}
	req := multipartRequest(t, "/api/transcribe?log=error", "file", "a.png", pngBytes(t, 4, 4))
	serve(NewMux(svc), req)
	out := buf.String()
	if !strings.Contains(out, "transcribe failed") || !strings.Contains(out, "runtime crashed") || !strings.Contains(out, `"status":500`) {
		t.Fatalf("log output=%s", out)
	}
}

func TestTranscribe_DebugLogsStart(t *testing.T) {
	buf := captureLogs(t)
	req := multipartRequest(t, "/api/transcribe", "file", "note.png", pngBytes(t, 4, 4))
	req.Header.Set("X-Log-Level", "debug")
	serve(NewMux(&mockService{markdown: "x"}), req)
	out := buf.String()
	if !strings.Contains(out, "transcribe start") || !strings.Contains(out, `"file":"note.png"`) || !strings.Contains(out, "transcribe done") {
		t.Fatalf("log output=%s", out)
	}
}

func TestTranscribe_LogOff(t *testing.T) {
	buf := captureLogs(t)
	serve(NewMux(&mockService{err: errors.New("x")}), multipartRequest(t, "/api/transcribe?log=off", "file", "a.png", pngBytes(t, 4, 4)))
	if buf.Len() != 0 {
		t.Fatalf("expected no logs, got %s", buf.String())
	}
}

func TestHealthz_NotLogged(t *testing.T) {
	buf := captureLogs(t)
	serve(NewMux(&mockService{}), httptest.NewRequest(http.MethodGet, "/healthz?log=debug", nil))
	if buf.Len() != 0 {
		t.Fatalf("unexpected logs: %s", buf.String())
	}
}
