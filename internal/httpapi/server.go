package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"handscribe/internal/imageio"
	"handscribe/internal/pipeline"
	"handscribe/pkg/types"
)

// Service is the transcription backend served over HTTP.
type Service interface {
	Transcribe(ctx context.Context, img image.Image) (pipeline.Result, error)
	ListModels() ([]types.Model, error)
	Status() types.StatusResponse
	Ready() bool
}

// upload is a decoded multipart image.
type upload struct {
	Name  string
	Size  int64
	Image image.Image
	Info  imageio.Info
}

// NewMux builds the router with the web UI, the JSON API and operational
// endpoints.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	ui := newUI()

	// Web UI
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		ui.renderIndex(w, svc.Status())
	})
	r.Post("/upload", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		up, res, err := transcribeUpload(r, svc, lvl)
		status := http.StatusOK
		if err != nil {
			status, _ = errorStatus(err)
		}
		logEnd(r, lvl, status, start, err)
		ui.renderResult(w, status, resultPage(up, res, err, time.Since(start), svc.Status()))
	})

	// API
	r.Post("/api/transcribe", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		_, res, err := transcribeUpload(r, svc, lvl)
		if err != nil {
			status, kind := errorStatus(err)
			logEnd(r, lvl, status, start, err)
			writeJSONError(w, status, err.Error(), kind)
			return
		}
		logEnd(r, lvl, http.StatusOK, start, nil)
		if r.URL.Query().Get("format") == "md" {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(time.Now())))
			_, _ = w.Write([]byte(res.Markdown))
			return
		}
		writeJSON(w, types.TranscribeResponse{
			Markdown:       res.Markdown,
			ID:             res.ID,
			ElapsedSeconds: res.Elapsed.Seconds(),
			NewTokens:      res.NewTokens,
		})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.ListModels()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		if models == nil {
			models = []types.Model{}
		}
		writeJSON(w, types.ModelsResponse{Models: models})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st := svc.Status()
		if gate != nil {
			st.Queue = &types.QueueStatus{
				Queued:        gate.Queued(),
				Inflight:      gate.Inflight(),
				MaxQueueDepth: gate.MaxQueueDepth(),
				MaxInflight:   gate.MaxInflight(),
			}
		}
		writeJSON(w, st)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Handle("/metrics", promhttp.Handler())

	MountSwagger(r)
	return r
}

// transcribeUpload reads the multipart file field, waits for admission and
// runs the transcription.
func transcribeUpload(r *http.Request, svc Service, lvl LogLevel) (*upload, pipeline.Result, error) {
	up, err := readUpload(r)
	if err != nil {
		return up, pipeline.Result{}, err
	}
	logStart(r, lvl, up.Name, up.Size)

	ctx, cancel := withServerBase(r.Context())
	defer cancel()
	if d := requestTimeoutDuration(); d > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, d)
		defer tcancel()
	}

	if gate != nil {
		release, err := gate.Begin(ctx)
		if err != nil {
			return up, pipeline.Result{}, err
		}
		defer release()
	}
	res, err := svc.Transcribe(ctx, up.Image)
	return up, res, err
}

func readUpload(r *http.Request) (*upload, error) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		return nil, errNotMultipart
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, pipeline.InputFailure("malformed multipart body: %v", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, pipeline.InputFailure("missing file field: %v", err)
	}
	defer f.Close()
	img, info, err := imageio.Decode(f)
	return &upload{Name: hdr.Filename, Size: hdr.Size, Image: img, Info: info}, err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// downloadName is the suggested file name of a transcription.
func downloadName(t time.Time) string {
	return fmt.Sprintf("transcription_%d.md", t.Unix())
}
