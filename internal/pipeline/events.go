package pipeline

// Event is a loader or engine lifecycle event.
// Name plus the transcription id (empty for loader events) and optional fields.
type Event struct {
	Name   string
	ID     string
	Fields map[string]any
}

// EventPublisher receives pipeline events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func orNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
