package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"handscribe/internal/device"
	"handscribe/internal/hub"
)

// Env is the process environment the loader toggles transfer mode through.
type Env interface {
	LookupEnv(key string) (string, bool)
	Setenv(key, value string) error
}

type osEnv struct{}

func (osEnv) LookupEnv(k string) (string, bool) { return os.LookupEnv(k) }
func (osEnv) Setenv(k, v string) error          { return os.Setenv(k, v) }

// LoaderOptions carries the collaborators of a Loader.
type LoaderOptions struct {
	Prober    device.Prober
	Fetcher   Fetcher
	Binder    Binder
	Env       Env
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// Loader acquires the model resource once per process.
type Loader struct {
	cfg    LoaderConfig
	prober device.Prober
	fetch  Fetcher
	binder Binder
	env    Env
	pub    EventPublisher
	log    zerolog.Logger

	// operator toggle captured at construction; restored before every load
	toggle    string
	toggleSet bool

	mu       sync.Mutex
	res      *Resource
	inflight *loadCall

	stateMu sync.RWMutex
	loading bool
	lastErr error
	loaded  *Resource
}

// NewLoader constructs a Loader. Fetcher and Binder are required.
func NewLoader(cfg LoaderConfig, opts LoaderOptions) *Loader {
	env := opts.Env
	if env == nil {
		env = osEnv{}
	}
	if cfg.Device == "" {
		cfg.Device = device.PreferAuto
	}
	l := &Loader{
		cfg:    cfg,
		prober: opts.Prober,
		fetch:  opts.Fetcher,
		binder: opts.Binder,
		env:    env,
		pub:    orNoop(opts.Publisher),
		log:    opts.Logger,
	}
	l.toggle, l.toggleSet = env.LookupEnv(hub.EnvEnableTransfer)
	return l
}

// loadCall is a load in progress. done is closed once res and err are set.
type loadCall struct {
	done     chan struct{}
	cancel   context.CancelFunc
	res      *Resource
	err      error
	canceled bool
}

// Acquire returns the cached resource, loading it on first use. Concurrent
// callers share one load and receive the same handle. The load outlives the
// caller that started it; each caller stops waiting when its own ctx ends.
// Failed loads are not cached; a later call retries. The returned error is
// always a *Failure.
func (l *Loader) Acquire(ctx context.Context) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, LoadFailure(fmt.Errorf("acquire: %w", err))
	}
	l.mu.Lock()
	if l.res != nil {
		res := l.res
		l.mu.Unlock()
		return res, nil
	}
	call := l.inflight
	if call == nil {
		loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		call = &loadCall{done: make(chan struct{}), cancel: cancel}
		l.inflight = call
		l.setState(true, nil, nil)
		go l.run(loadCtx, call)
	}
	l.mu.Unlock()

	select {
	case <-call.done:
		return call.res, call.err
	case <-ctx.Done():
		return nil, LoadFailure(fmt.Errorf("waiting for resource load: %w", ctx.Err()))
	}
}

func (l *Loader) run(ctx context.Context, call *loadCall) {
	defer call.cancel()
	res, err := l.load(ctx)

	l.mu.Lock()
	if call.canceled && err == nil {
		_ = res.Close()
		res, err = nil, LoadFailure(errors.New("loader closed during load"))
	}
	l.inflight = nil
	call.res, call.err = res, err
	if err == nil {
		l.res = res
		l.setState(false, nil, res)
	} else {
		l.setState(false, err, nil)
	}
	l.mu.Unlock()

	if err != nil {
		resourceLoadsTotal.WithLabelValues("error").Inc()
		l.log.Error().Err(err).Msg("resource load failed")
		l.pub.Publish(Event{Name: "load_failed", Fields: map[string]any{"error": err.Error()}})
	} else {
		resourceLoadsTotal.WithLabelValues("ok").Inc()
	}
	close(call.done)
}

// Loaded reports whether the resource has been acquired.
func (l *Loader) Loaded() bool { return l.Resource() != nil }

// Resource returns the cached handle without loading, or nil.
func (l *Loader) Resource() *Resource {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.loaded
}

// Loading reports whether a load is in progress.
func (l *Loader) Loading() bool {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.loading
}

// LastError returns the error of the most recent failed load, if the resource
// is not loaded.
func (l *Loader) LastError() error {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.lastErr
}

// Close releases the resource and cancels a load in progress. A later Acquire
// loads it again.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if call := l.inflight; call != nil {
		call.canceled = true
		call.cancel()
	}
	res := l.res
	l.res = nil
	l.setState(false, nil, nil)
	return res.Close()
}

func (l *Loader) setState(loading bool, err error, res *Resource) {
	l.stateMu.Lock()
	l.loading = loading
	l.lastErr = err
	l.loaded = res
	l.stateMu.Unlock()
}

func (l *Loader) load(ctx context.Context) (res *Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = LoadFailure(fmt.Errorf("panic during load: %v", r))
		}
	}()
	if l.fetch == nil || l.binder == nil {
		return nil, LoadFailure(errors.New("loader is missing a fetcher or runtime binder"))
	}
	start := time.Now()
	l.log.Info().Msg("loading model resource")
	l.pub.Publish(Event{Name: "load_start"})

	dev, err := device.Select(ctx, l.prober, l.cfg.Device)
	if err != nil {
		return nil, LoadFailure(fmt.Errorf("select device: %w", err))
	}
	if dev.Kind == device.Accelerated {
		l.log.Info().Str("device", dev.Name).Float64("memory_gb", dev.MemoryGB()).Msg("using accelerated device")
	} else {
		l.log.Warn().Msg("no accelerated device available, running on CPU; transcription will be slow")
	}
	l.pub.Publish(Event{Name: "device_selected", Fields: map[string]any{"kind": string(dev.Kind), "name": dev.Name, "memory_mb": dev.MemoryMB}})

	precision := dev.Precision()
	modelFile, projectorFile := l.cfg.Files(precision)
	if modelFile == "" || projectorFile == "" {
		return nil, LoadFailure(fmt.Errorf("no weight files configured for precision %s", precision))
	}

	toggle := "1"
	if l.toggleSet {
		toggle = l.toggle
	}
	if err := l.env.Setenv(hub.EnvEnableTransfer, toggle); err != nil {
		return nil, LoadFailure(fmt.Errorf("set %s: %w", hub.EnvEnableTransfer, err))
	}
	mode := hub.Accelerated
	projectorPath, mode, err := l.fetchFile(ctx, projectorFile, mode)
	if err != nil {
		return nil, LoadFailure(err)
	}
	modelPath, mode, err := l.fetchFile(ctx, modelFile, mode)
	if err != nil {
		return nil, LoadFailure(err)
	}

	backend, err := l.binder.Bind(ctx, BindSpec{ModelPath: modelPath, ProjectorPath: projectorPath, Device: dev})
	if err != nil {
		return nil, LoadFailure(fmt.Errorf("bind runtime: %w", err))
	}
	if backend == nil {
		return nil, LoadFailure(errors.New("bind runtime: no backend"))
	}

	now := time.Now()
	res = &Resource{
		Generator:     backend,
		Preprocessor:  NewPreprocessor(backend),
		Device:        dev,
		Precision:     precision,
		ModelPath:     modelPath,
		ProjectorPath: projectorPath,
		Transfer:      mode,
		LoadedAt:      now,
		LoadDuration:  now.Sub(start),
		closer:        backend,
	}
	l.log.Info().Str("model", modelPath).Str("precision", string(precision)).Str("transfer", string(mode)).
		Dur("took", res.LoadDuration).Msg("model resource ready")
	l.pub.Publish(Event{Name: "load_ready", Fields: map[string]any{"model": modelPath, "precision": string(precision), "transfer": string(mode)}})
	return res, nil
}

// fetchFile fetches file in mode. When the accelerated mode is unavailable it
// disables the toggle and retries once in standard mode; the returned mode is
// the one later fetches should use.
func (l *Loader) fetchFile(ctx context.Context, file string, mode hub.Mode) (string, hub.Mode, error) {
	path, err := l.fetch.Fetch(ctx, file, mode)
	if err == nil {
		return path, mode, nil
	}
	if mode != hub.Accelerated || !hub.IsTransferUnavailable(err) {
		return "", mode, fmt.Errorf("fetch %s: %w", file, err)
	}
	l.log.Warn().Err(err).Str("file", file).Msg("accelerated download unavailable, falling back to standard download")
	l.pub.Publish(Event{Name: "transfer_fallback", Fields: map[string]any{"file": file, "error": err.Error()}})
	transferFallbacksTotal.Inc()
	if serr := l.env.Setenv(hub.EnvEnableTransfer, "0"); serr != nil {
		return "", mode, fmt.Errorf("set %s: %w", hub.EnvEnableTransfer, serr)
	}
	path, err = l.fetch.Fetch(ctx, file, hub.Standard)
	if err != nil {
		return "", hub.Standard, fmt.Errorf("fetch %s: %w", file, err)
	}
	return path, hub.Standard, nil
}
