package pipeline

import "sync"

// MemoryPublisher stores events in-memory; used by tests and the status page.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Stages returns the "stage" events of transcription id in order.
func (p *MemoryPublisher) Stages(id string) []State {
	var out []State
	for _, e := range p.Events() {
		if e.Name != "stage" || e.ID != id {
			continue
		}
		if s, ok := e.Fields["state"].(State); ok {
			out = append(out, s)
		}
	}
	return out
}
