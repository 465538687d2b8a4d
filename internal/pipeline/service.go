package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Service owns the process-wide loader and engine. Front-ends receive it
// explicitly.
type Service struct {
	loader *Loader
	engine *Engine
	repo   string
	log    zerolog.Logger
	start  time.Time

	warmOnce sync.Once
}

// NewService constructs a Service. repo is reported by Status.
func NewService(loader *Loader, engine *Engine, repo string, log zerolog.Logger) *Service {
	return &Service{loader: loader, engine: engine, repo: repo, log: log, start: time.Now()}
}

// Transcribe acquires the resource, loading it on first use, and transcribes img.
func (s *Service) Transcribe(ctx context.Context, img image.Image) (Result, error) {
	res, err := s.loader.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	return s.engine.Transcribe(ctx, res, img)
}

// Acquire exposes the loader for callers that report on the resource.
func (s *Service) Acquire(ctx context.Context) (*Resource, error) { return s.loader.Acquire(ctx) }

// Warmup starts loading the resource in the background. Only the first call
// has an effect.
func (s *Service) Warmup(ctx context.Context) {
	s.warmOnce.Do(func() {
		go func() {
			if _, err := s.loader.Acquire(ctx); err != nil {
				s.log.Warn().Err(err).Msg("warmup failed; the next request retries the load")
				return
			}
			s.log.Info().Msg("warmup complete")
		}()
	})
}

// Ready reports whether the resource is loaded.
func (s *Service) Ready() bool { return s.loader.Loaded() }

// Close releases the resource and stops the runtime.
func (s *Service) Close() error { return s.loader.Close() }
