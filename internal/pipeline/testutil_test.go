package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"handscribe/internal/device"
	"handscribe/internal/hub"
)

const specialBase = 151643

// fakeTokenizer maps runes to their code points and control tokens to ids at
// specialBase and above.
type fakeTokenizer struct{}

func (fakeTokenizer) Tokenize(_ context.Context, text string) ([]int, error) {
	var ids []int
	for len(text) > 0 {
		matched := false
		for i, tok := range SpecialTokens {
			if strings.HasPrefix(text, tok) {
				ids = append(ids, specialBase+i)
				text = text[len(tok):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		r := []rune(text)[0]
		ids = append(ids, int(r))
		text = text[len(string(r)):]
	}
	return ids, nil
}

func (fakeTokenizer) Detokenize(_ context.Context, ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id >= specialBase {
			b.WriteString(SpecialTokens[id-specialBase])
			continue
		}
		b.WriteRune(rune(id))
	}
	return b.String(), nil
}

func (fakeTokenizer) IsSpecial(id int) bool { return id >= specialBase }
func (fakeTokenizer) EOS() string           { return tokIMEnd }

func eosID() int {
	for i, tok := range SpecialTokens {
		if tok == tokIMEnd {
			return specialBase + i
		}
	}
	return -1
}

// fakeBackend answers every generation with reply followed by EOS.
type fakeBackend struct {
	fakeTokenizer
	reply    string
	pad      int // extra non-special ids appended before EOS
	err      error
	panicMsg string
	block    time.Duration // sleep ignoring ctx

	mu         sync.Mutex
	lastInputs Inputs
	lastParams GenerateParams
	calls      int
	closed     bool
}

func (b *fakeBackend) Generate(ctx context.Context, in Inputs, p GenerateParams) ([]int, error) {
	b.mu.Lock()
	b.calls++
	b.lastInputs = in
	b.lastParams = p
	b.mu.Unlock()
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.block > 0 {
		time.Sleep(b.block)
	}
	if b.err != nil {
		return nil, b.err
	}
	out, _ := b.Tokenize(ctx, b.reply)
	for i := 0; i < b.pad; i++ {
		out = append(out, 'x')
	}
	seq := append(append([]int{}, in.IDs...), out...)
	return append(seq, eosID()), nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type fetchCall struct {
	file string
	mode hub.Mode
}

// fakeFetcher fails accelerated fetches with accelErr and standard fetches with
// stdErr.
type fakeFetcher struct {
	accelErr error
	stdErr   error

	mu    sync.Mutex
	calls []fetchCall
}

func (f *fakeFetcher) Fetch(_ context.Context, file string, mode hub.Mode) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{file: file, mode: mode})
	f.mu.Unlock()
	if mode == hub.Accelerated && f.accelErr != nil {
		return "", f.accelErr
	}
	if mode == hub.Standard && f.stdErr != nil {
		return "", f.stdErr
	}
	return "/cache/" + file, nil
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type fakeBinder struct {
	backend  *fakeBackend
	err      error
	panicMsg string
	delay    time.Duration
	hold     chan struct{} // blocks Bind until closed, ignoring ctx

	mu    sync.Mutex
	binds int
	spec  BindSpec
}

func (b *fakeBinder) Bind(_ context.Context, spec BindSpec) (Backend, error) {
	b.mu.Lock()
	b.binds++
	b.spec = spec
	b.mu.Unlock()
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.hold != nil {
		<-b.hold
	}
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.backend, nil
}

func (b *fakeBinder) Binds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds
}

type fakeProber struct {
	info device.Info
	err  error
}

func (p fakeProber) Probe(context.Context) (device.Info, error) { return p.info, p.err }

var gpu = device.Info{Kind: device.Accelerated, Name: "NVIDIA Test", MemoryMB: 24576}

// mapEnv is an in-memory Env.
type mapEnv struct {
	mu sync.Mutex
	m  map[string]string
}

func newMapEnv() *mapEnv { return &mapEnv{m: map[string]string{}} }

func (e *mapEnv) LookupEnv(k string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.m[k]
	return v, ok
}

func (e *mapEnv) Setenv(k, v string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[k] = v
	return nil
}

func testLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Device:        device.PreferAuto,
		ModelHalf:     "model-f16.gguf",
		ModelFull:     "model-f32.gguf",
		ProjectorHalf: "mmproj-f16.gguf",
		ProjectorFull: "mmproj-f32.gguf",
	}
}

type loaderFixture struct {
	loader  *Loader
	prober  device.Prober
	fetcher *fakeFetcher
	binder  *fakeBinder
	backend *fakeBackend
	env     *mapEnv
	pub     *MemoryPublisher
}

func newLoaderFixture(prober device.Prober) *loaderFixture {
	fx := &loaderFixture{
		fetcher: &fakeFetcher{},
		backend: &fakeBackend{reply: "# Notes\n- one"},
		env:     newMapEnv(),
		pub:     NewMemoryPublisher(),
	}
	fx.binder = &fakeBinder{backend: fx.backend}
	fx.prober = prober
	fx.rebuild()
	return fx
}

// rebuild constructs a fresh loader over the fixture's fakes, picking up the
// current environment.
func (fx *loaderFixture) rebuild() {
	fx.loader = NewLoader(testLoaderConfig(), LoaderOptions{
		Prober:    fx.prober,
		Fetcher:   fx.fetcher,
		Binder:    fx.binder,
		Env:       fx.env,
		Publisher: fx.pub,
	})
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// testResource builds a loaded resource around b without a loader.
func testResource(b *fakeBackend) *Resource {
	return &Resource{
		Generator:    b,
		Preprocessor: NewPreprocessor(b),
		Device:       device.CPU(),
		Precision:    device.Full,
		closer:       b,
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

var errBoom = errors.New("boom")

func testLogger() zerolog.Logger { return zerolog.Nop() }
