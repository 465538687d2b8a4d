package pipeline

import "github.com/rs/zerolog"

// LogPublisher writes events to a zerolog logger. Stage transitions go to
// debug and failures to warn.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	var ev *zerolog.Event
	switch e.Name {
	case "stage":
		ev = p.Log.Debug()
	case "transfer_fallback", "load_failed", "spawn_exit", "spawn_timeout":
		ev = p.Log.Warn()
	default:
		ev = p.Log.Info()
	}
	if e.ID != "" {
		ev = ev.Str("transcription", e.ID)
	}
	ev.Fields(e.Fields).Msg(e.Name)
}
