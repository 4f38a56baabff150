package orchestrator

// EventType discriminates run events on the stream.
type EventType string

const (
	EventLog      EventType = "log"
	EventError    EventType = "error"
	EventStatus   EventType = "status"
	EventFinished EventType = "finished"
)

// Event is one entry on the strictly ordered run event stream. Status is set
// for status and finished events; ExitCode only for finished events.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"runId"`
	Message  string    `json:"message,omitempty"`
	Status   string    `json:"status,omitempty"`
	ExitCode int       `json:"exitCode,omitempty"`
}

// Listener receives run events. Delivery is synchronous and in order;
// listeners attached after a run starts see no replay.
type Listener func(Event)

// TestListener receives the "test updated" notification fired after a run's
// per-test metadata has been rewritten.
type TestListener func(testName string)

// emit delivers an event to all listeners under the emit lock, preserving
// stream order across goroutines.
func (o *orchestrator) emit(ev Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	for _, l := range o.listeners {
		l(ev)
	}
}

func (o *orchestrator) notifyTestUpdated(testName string) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	for _, l := range o.testListeners {
		l(testName)
	}
}

// Subscribe attaches a run-event listener.
func (o *orchestrator) Subscribe(l Listener) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.listeners = append(o.listeners, l)
}

// SubscribeTestUpdated attaches a test-updated listener.
func (o *orchestrator) SubscribeTestUpdated(l TestListener) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.testListeners = append(o.testListeners, l)
}
