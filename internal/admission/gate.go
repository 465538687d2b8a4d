// Package admission bounds concurrent transcriptions: a queue of waiting
// requests and a smaller set of in-flight slots.
package admission

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 8
	defaultMaxInflight   = 1
	defaultMaxWait       = 120 * time.Second
)

var (
	queuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handscribe",
		Subsystem: "admission",
		Name:      "queued",
		Help:      "Requests waiting or running",
	})
	inflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "handscribe",
		Subsystem: "admission",
		Name:      "inflight",
		Help:      "Requests holding an in-flight slot",
	})
	waitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "handscribe",
		Subsystem: "admission",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for an in-flight slot",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})
)

func init() {
	prometheus.MustRegister(queuedGauge, inflightGauge, waitSeconds)
}

// ErrTooBusy is matched with errors.Is by callers that map backpressure to 429.
var ErrTooBusy = errors.New("too busy")

// tooBusyError signals queue overflow or wait timeout.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string { return "too busy: " + e.reason }

func (e tooBusyError) Is(target error) bool { return target == ErrTooBusy }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool { return errors.Is(err, ErrTooBusy) }

// Reason returns the backpressure reason of err ("queue_full" or
// "wait_timeout"), or "".
func Reason(err error) string {
	var tb tooBusyError
	if errors.As(err, &tb) {
		return tb.reason
	}
	return ""
}

// Config sizes a Gate.
type Config struct {
	MaxQueueDepth int
	MaxInflight   int
	MaxWait       time.Duration
}

// Gate admits requests. The queue bounds requests waiting or running; the
// in-flight slots bound those running.
type Gate struct {
	queueCh chan struct{}
	genCh   chan struct{}
	maxWait time.Duration
}

// New constructs a Gate, applying defaults for unset fields.
func New(cfg Config) *Gate {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxQueueDepth < cfg.MaxInflight {
		cfg.MaxQueueDepth = cfg.MaxInflight
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	return &Gate{
		queueCh: make(chan struct{}, cfg.MaxQueueDepth),
		genCh:   make(chan struct{}, cfg.MaxInflight),
		maxWait: cfg.MaxWait,
	}
}

// Begin reserves a queue slot and then an in-flight slot. A full queue fails
// immediately; waiting for an in-flight slot fails after MaxWait. The returned
// release func must be called exactly once on success.
func (g *Gate) Begin(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	select {
	case g.queueCh <- struct{}{}:
	default:
		return func() {}, tooBusyError{reason: "queue_full"}
	}

	queuedGauge.Inc()

	acquired := false
	defer func() {
		if !acquired {
			<-g.queueCh
			queuedGauge.Dec()
		}
	}()
	start := time.Now()
	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()
	select {
	case g.genCh <- struct{}{}:
		acquired = true
		waitSeconds.Observe(time.Since(start).Seconds())
		inflightGauge.Inc()
		return func() {
			<-g.genCh
			inflightGauge.Dec()
			<-g.queueCh
			queuedGauge.Dec()
		}, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{reason: "wait_timeout"}
	}
}

// Queued returns the number of requests waiting or running.
func (g *Gate) Queued() int { return len(g.queueCh) }

// Inflight returns the number of running requests.
func (g *Gate) Inflight() int { return len(g.genCh) }

// MaxQueueDepth returns the queue capacity.
func (g *Gate) MaxQueueDepth() int { return cap(g.queueCh) }

// MaxInflight returns the in-flight capacity.
func (g *Gate) MaxInflight() int { return cap(g.genCh) }
