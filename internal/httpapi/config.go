package httpapi

import (
	"time"

	"handscribe/internal/admission"
)

const defaultMaxBodyBytes int64 = 20 << 20

// maxBodyBytes caps multipart uploads. Default 20 MiB.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes allows configuring the maximum upload size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// requestTimeout bounds a single transcription request on top of the engine's
// own deadline. Zero means no additional timeout.
var requestTimeout = int64(0) // seconds

// SetRequestTimeoutSeconds sets the request timeout in seconds (0 disables).
func SetRequestTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	requestTimeout = sec
}

func requestTimeoutDuration() time.Duration {
	return time.Duration(requestTimeout) * time.Second
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// gate admits transcription requests. Nil admits everything.
var gate *admission.Gate

// SetAdmission installs the admission gate used by the transcription routes.
func SetAdmission(g *admission.Gate) { gate = g }
