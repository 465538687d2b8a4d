package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine turns images into markdown with a loaded Resource. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	cfg EngineConfig
	pub EventPublisher
	log zerolog.Logger
}

// NewEngine constructs an Engine; zero config fields take package defaults.
func NewEngine(cfg EngineConfig, pub EventPublisher, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), pub: orNoop(pub), log: log}
}

// Config returns the effective engine configuration.
func (e *Engine) Config() EngineConfig { return e.cfg }

// Params returns the generation parameters used with res.
func (e *Engine) Params(res *Resource) GenerateParams {
	return GenerateParams{
		Sample:       !e.cfg.Greedy,
		Temperature:  e.cfg.Temperature,
		TopP:         e.cfg.TopP,
		MaxNewTokens: e.cfg.MaxNewTokens,
		EOS:          res.Preprocessor.EOS(),
	}
}

// run tracks the stage of one transcription.
type run struct {
	id    string
	e     *Engine
	mu    sync.Mutex
	stage State
	done  bool
}

// enter records s. Once a terminal state is entered, later stages reported by
// an abandoned runtime call are dropped.
func (r *run) enter(s State) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.stage = s
	r.done = s == StateSuccess || s == StateFailed
	r.mu.Unlock()
	r.e.pub.Publish(Event{Name: "stage", ID: r.id, Fields: map[string]any{"state": s}})
	r.e.log.Debug().Str("id", r.id).Str("state", string(s)).Msg("transcription stage")
}

func (r *run) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

type outcome struct {
	res Result
	err error
}

// Transcribe produces markdown for img. It applies the configured timeout on
// top of ctx and returns once the deadline passes even if the runtime ignores
// cancellation. The error is always a *Failure of kind TranscriptionError.
func (e *Engine) Transcribe(ctx context.Context, res *Resource, img image.Image) (Result, error) {
	start := time.Now()
	r := &run{id: uuid.NewString(), e: e}
	r.enter(StateIdle)

	if res == nil || res.Generator == nil || res.Preprocessor == nil {
		return e.fail(r, start, errors.New("model resource is not loaded"))
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := e.transcribe(ctx, r, res, img)
		done <- outcome{res: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return e.fail(r, start, o.err)
		}
		o.res.ID = r.id
		o.res.Elapsed = time.Since(start)
		o.res.Backend = "local"
		r.enter(StateSuccess)
		transcriptionsTotal.WithLabelValues("ok").Inc()
		transcriptionDuration.Observe(o.res.Elapsed.Seconds())
		generatedTokens.Observe(float64(o.res.NewTokens))
		e.log.Info().Str("id", r.id).Int("new_tokens", o.res.NewTokens).Dur("took", o.res.Elapsed).Msg("transcription done")
		return o.res, nil
	case <-ctx.Done():
		return e.fail(r, start, fmt.Errorf("transcription did not finish: %w", ctx.Err()))
	}
}

func (e *Engine) transcribe(ctx context.Context, r *run, res *Resource, img image.Image) (Result, error) {
	pre := res.Preprocessor

	r.enter(StatePreprocessing)
	rgb, err := NormalizeRGB(img)
	if err != nil {
		return Result{}, err
	}
	text, images, err := pre.ApplyTemplate(TranscriptionConversation(rgb, e.cfg.Instruction))
	if err != nil {
		return Result{}, fmt.Errorf("apply chat template: %w", err)
	}

	r.enter(StateEncoding)
	in, err := pre.Encode(ctx, text, images, res.Device)
	if err != nil {
		return Result{}, err
	}

	r.enter(StateGenerating)
	seq, err := res.Generator.Generate(ctx, in, e.Params(res))
	if err != nil {
		return Result{}, fmt.Errorf("generate: %w", err)
	}
	if len(seq) < len(in.IDs) {
		return Result{}, fmt.Errorf("generate: sequence shorter than prompt (%d < %d)", len(seq), len(in.IDs))
	}
	newIDs := seq[len(in.IDs):]
	if len(newIDs) > e.cfg.MaxNewTokens {
		newIDs = newIDs[:e.cfg.MaxNewTokens]
	}

	r.enter(StateDecoding)
	out, err := pre.Decode(ctx, newIDs)
	if err != nil {
		return Result{}, err
	}
	return Result{Markdown: strings.TrimSpace(out), NewTokens: len(newIDs)}, nil
}

func (e *Engine) fail(r *run, start time.Time, err error) (Result, error) {
	stage := r.current()
	r.enter(StateFailed)
	transcriptionsTotal.WithLabelValues("error").Inc()
	transcriptionDuration.Observe(time.Since(start).Seconds())
	e.log.Error().Err(err).Str("id", r.id).Str("stage", string(stage)).Msg("transcription failed")
	return Result{}, newFailure(TranscriptionError, stage, err)
}
