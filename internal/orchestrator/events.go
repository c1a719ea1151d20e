package orchestrator

import "time"

// EventType names an orchestration event
type EventType string

const (
	EventVerificationStarted   EventType = "verification:started"
	EventVerificationCompleted EventType = "verification:completed"
	EventVerificationFailed    EventType = "verification:failed"
	EventCacheHit              EventType = "verification:cache-hit"
	EventBatchStarted          EventType = "batch:started"
	EventBatchProgress         EventType = "batch:progress"
	EventBatchCompleted        EventType = "batch:completed"
	EventSystemShutdown        EventType = "system:shutdown"
)

// Event is delivered synchronously to every registered listener
type Event struct {
	Type          EventType
	CorrelationID string
	FilePath      string
	Progress      *BatchProgress
	Err           error
	Timestamp     time.Time
}

// Listener observes orchestration events. Listeners run on the calling
// goroutine and must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

func (o *Orchestrator) emit(e Event) {
	if len(o.listeners) == 0 {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now()
	}
	for _, l := range o.listeners {
		o.deliver(l, e)
	}
}

func (o *Orchestrator) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("event", e.Type).Errorf("Listener panicked: %v", r)
		}
	}()
	l.OnEvent(e)
}
