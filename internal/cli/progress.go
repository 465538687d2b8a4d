package cli

import (
	"sync"

	"github.com/rs/zerolog"
)

// progressLog logs download progress in 10% steps per file.
type progressLog struct {
	log  zerolog.Logger
	mu   sync.Mutex
	last map[string]int64
}

func newProgressLog(log zerolog.Logger) *progressLog {
	return &progressLog{log: log, last: map[string]int64{}}
}

func (p *progressLog) report(file string, downloaded, total int64) {
	if total <= 0 {
		return
	}
	step := downloaded * 10 / total
	p.mu.Lock()
	prev, seen := p.last[file]
	if seen && step <= prev {
		p.mu.Unlock()
		return
	}
	p.last[file] = step
	p.mu.Unlock()
	p.log.Info().
		Str("file", file).
		Int64("downloaded", downloaded).
		Int64("total", total).
		Int64("percent", step*10).
		Msg("downloading")
}
