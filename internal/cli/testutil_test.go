package cli

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"handscribe/internal/config"
	"handscribe/internal/device"
	"handscribe/internal/hub"
	"handscribe/internal/pipeline"
)

var errBoom = errors.New("boom")

type fakeLocal struct {
	markdown   string
	acquireErr error
	err        error
	dev        device.Info
	closed     bool
	seen       image.Point
}

func (f *fakeLocal) Acquire(ctx context.Context) (*pipeline.Resource, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &pipeline.Resource{
		Device:       f.dev,
		Precision:    f.dev.Precision(),
		Transfer:     hub.Accelerated,
		LoadDuration: 2 * time.Second,
	}, nil
}

func (f *fakeLocal) Transcribe(ctx context.Context, img image.Image) (pipeline.Result, error) {
	f.seen = img.Bounds().Size()
	if f.acquireErr != nil {
		return pipeline.Result{}, f.acquireErr
	}
	if f.err != nil {
		return pipeline.Result{}, f.err
	}
	return pipeline.Result{ID: "t-1", Markdown: f.markdown, NewTokens: 3, Elapsed: 250 * time.Millisecond, Backend: "local"}, nil
}

func (f *fakeLocal) Close() error {
	f.closed = true
	return nil
}

type fakeRemote struct{ markdown string }

func (f fakeRemote) Transcribe(ctx context.Context, img image.Image) (pipeline.Result, error) {
	return pipeline.Result{Markdown: f.markdown, Backend: "openai"}, nil
}

// testApp returns an app with fake backends and captured output.
func testApp(t *testing.T, local *fakeLocal, env map[string]string) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	getenv := func(k string) string { return env[k] }
	a := newApp("test", &stdout, &stderr, getenv)
	a.newLocal = func(cfg config.Config, log zerolog.Logger) (localService, error) {
		if local == nil {
			return nil, errBoom
		}
		return local, nil
	}
	a.newRemote = func(cfg config.Config, log zerolog.Logger) (transcriber, error) {
		return fakeRemote{markdown: "remote text"}, nil
	}
	return a, &stdout, &stderr
}

// run executes the command tree with args.
func run(t *testing.T, a *app, args ...string) error {
	t.Helper()
	root := newRootCmd(a)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 0xff}.Y
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return p
}
