package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer. Silent until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("HANDSCRIBE_HTTP_LOG_LEVEL"))

// SetDefaultLogLevel overrides the per-request default ("off", "error",
// "info", "debug").
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logStart records the start of a transcription request.
func logStart(r *http.Request, lvl LogLevel, filename string, size int64) {
	if lvl < LevelDebug {
		return
	}
	zlog.Debug().
		Str("path", r.URL.Path).
		Str("file", filename).
		Int64("bytes", size).
		Str("remote", r.RemoteAddr).
		Msg("transcribe start")
}

// logEnd records how a transcription request finished.
func logEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	dur := time.Since(start)
	switch {
	case err != nil && lvl >= LevelError:
		zlog.Error().
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", dur).
			Err(err).
			Msg("transcribe failed")
	case err == nil && lvl >= LevelInfo:
		zlog.Info().
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", dur).
			Msg("transcribe done")
	}
}
