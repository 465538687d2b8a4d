package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"handscribe/internal/device"
	"handscribe/internal/pipeline"
)

// Config tunes how llama-server is started.
type Config struct {
	// URL attaches to an already running server instead of spawning one.
	URL       string
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	CtxSize   int
	Threads   int
	ExtraArgs []string
	// ReadyTimeout bounds the model load inside the server.
	ReadyTimeout time.Duration
}

const (
	defaultReadyTimeout = 10 * time.Minute
	stopGrace           = 2 * time.Second
	stderrTailBytes     = 4096
)

// Launcher binds weight files to a device by starting llama-server. It
// implements pipeline.Binder.
type Launcher struct {
	cfg Config
	pub pipeline.EventPublisher
	log zerolog.Logger
}

var _ pipeline.Binder = (*Launcher)(nil)

// NewLauncher constructs a Launcher. pub may be nil.
func NewLauncher(cfg Config, pub pipeline.EventPublisher, log zerolog.Logger) *Launcher {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Bin == "" {
		cfg.Bin = "llama-server"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Launcher{cfg: cfg, pub: pub, log: log}
}

// Bind implements pipeline.Binder.
func (l *Launcher) Bind(ctx context.Context, spec pipeline.BindSpec) (pipeline.Backend, error) {
	if l.cfg.URL != "" {
		l.log.Info().Str("url", l.cfg.URL).Msg("attaching to running llama-server")
		return Connect(ctx, l.cfg.URL, l.log)
	}
	return l.Start(ctx, spec)
}

// buildArgs returns the llama-server command line for spec on host:port.
func (l *Launcher) buildArgs(spec pipeline.BindSpec, port int) []string {
	args := []string{
		"-m", spec.ModelPath,
		"--mmproj", spec.ProjectorPath,
		"--host", l.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if l.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(l.cfg.CtxSize))
	}
	if l.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(l.cfg.Threads))
	}
	if spec.Device.Kind == device.Accelerated {
		args = append(args, "-ngl", "999")
	} else {
		args = append(args, "-ngl", "0", "--no-mmproj-offload")
	}
	return append(args, l.cfg.ExtraArgs...)
}

func (l *Launcher) pickPort() (int, error) {
	if l.cfg.PortStart > 0 && l.cfg.PortEnd >= l.cfg.PortStart {
		return pickPortInRange(l.cfg.Host, l.cfg.PortStart, l.cfg.PortEnd)
	}
	return pickFreePort(l.cfg.Host)
}

// Start spawns llama-server for spec and waits until it reports healthy. A
// process that exits before becoming ready fails the call with the tail of its
// stderr.
func (l *Launcher) Start(ctx context.Context, spec pipeline.BindSpec) (*Client, error) {
	if strings.TrimSpace(spec.ModelPath) == "" || strings.TrimSpace(spec.ProjectorPath) == "" {
		return nil, errors.New("model and projector paths are required")
	}
	port, err := l.pickPort()
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", l.cfg.Host, port)

	cmd := exec.Command(l.cfg.Bin, l.buildArgs(spec, port)...)
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	pid := cmd.Process.Pid
	l.log.Info().Str("model", spec.ModelPath).Str("device", string(spec.Device.Kind)).Int("pid", pid).Int("port", port).Msg("llama-server started")
	l.pub.Publish(pipeline.Event{Name: "spawn_start", Fields: map[string]any{"pid": pid, "host": l.cfg.Host, "port": port}})

	p := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	c := &Client{baseURL: baseURL, httpClient: newHTTPClient(), log: l.log}
	c.stop = func() error {
		err := p.stop()
		l.pub.Publish(pipeline.Event{Name: "spawn_stop", Fields: map[string]any{"pid": pid}})
		l.log.Info().Int("pid", pid).Msg("llama-server stopped")
		return err
	}

	if err := l.waitReady(ctx, c, p, stderr); err != nil {
		_ = p.stop()
		return nil, err
	}
	if err := c.init(ctx); err != nil {
		_ = p.stop()
		return nil, err
	}
	l.log.Info().Int("pid", pid).Str("url", baseURL).Msg("llama-server ready")
	l.pub.Publish(pipeline.Event{Name: "spawn_ready", Fields: map[string]any{"pid": pid, "url": baseURL}})
	return c, nil
}

func (l *Launcher) waitReady(ctx context.Context, c *Client, p *process, stderr *tailBuffer) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	pid := p.cmd.Process.Pid
	for {
		select {
		case <-p.exited:
			l.pub.Publish(pipeline.Event{Name: "spawn_exit", Fields: map[string]any{"pid": pid, "error": fmt.Sprint(p.waitErr)}})
			if p.waitErr != nil {
				return fmt.Errorf("llama-server exited early: %v; stderr tail: %s", p.waitErr, stderr.String())
			}
			return fmt.Errorf("llama-server exited before ready; stderr tail: %s", stderr.String())
		case <-ctx.Done():
			l.pub.Publish(pipeline.Event{Name: "spawn_timeout", Fields: map[string]any{"pid": pid}})
			return fmt.Errorf("llama-server not ready in time at %s: %w", c.baseURL, ctx.Err())
		case <-tick.C:
		}
		hctx, hcancel := context.WithTimeout(ctx, time.Second)
		err := c.Health(hctx)
		hcancel()
		if err == nil {
			return nil
		}
		if !IsHTTPStatus(err, http.StatusServiceUnavailable) {
			l.log.Debug().Err(err).Msg("waiting for llama-server")
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(pipeline.Event) {}

// process is an owned llama-server. exited closes once Wait returns.
type process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	once    sync.Once
}

// stop sends SIGTERM, then kills after a grace period.
func (p *process) stop() error {
	p.once.Do(func() {
		select {
		case <-p.exited:
			return
		default:
		}
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.exited:
		case <-time.After(stopGrace):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
