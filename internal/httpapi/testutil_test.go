package httpapi

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"handscribe/internal/admission"
	"handscribe/internal/pipeline"
	"handscribe/pkg/types"
)

type mockService struct {
	mu        sync.Mutex
	models    []types.Model
	modelsErr error
	status    types.StatusResponse
	ready     bool
	markdown  string
	err       error
	block     chan struct{}
	calls     int
	lastSize  image.Point
	lastReqID string
}

func (m *mockService) Transcribe(ctx context.Context, img image.Image) (pipeline.Result, error) {
	m.mu.Lock()
	m.calls++
	m.lastSize = img.Bounds().Size()
	m.lastReqID = middleware.GetReqID(ctx)
	block := m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}
	if m.err != nil {
		return pipeline.Result{}, m.err
	}
	return pipeline.Result{ID: "t-1", Markdown: m.markdown, NewTokens: 7, Elapsed: 1500 * time.Millisecond, Backend: "local"}, nil
}

func (m *mockService) ListModels() ([]types.Model, error) {
	return append([]types.Model(nil), m.models...), m.modelsErr
}
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// pngBytes encodes a white w x h image.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST with data in the given form field.
func multipartRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// withGate installs g for the duration of the test.
func withGate(t *testing.T, g *admission.Gate) {
	t.Helper()
	SetAdmission(g)
	t.Cleanup(func() { SetAdmission(nil) })
}
