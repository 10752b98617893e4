// Package ui contains user interface sinks for the agent.
package ui

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/module"
)

// LogSink writes user interface updates to the log. It is used when the
// agent runs headless.
type LogSink struct {
	log zerolog.Logger
}

var _ module.UINotifier = (*LogSink)(nil)

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "ui").Logger()}
}

func (s *LogSink) Notify(msg string) {
	s.log.Info().Msg(msg)
}

func (s *LogSink) Refresh(view module.View) {
	s.log.Debug().Str("view", string(view)).Msg("refresh")
}

func (s *LogSink) Navigate(route string) {
	s.log.Info().Str("route", route).Msg("navigate")
}

func (s *LogSink) Publish(event module.AgentEvent) {
	s.log.Info().
		Str("event", string(event.Kind)).
		Str("aid", event.Prefix.String()).
		Str("detail", event.Detail).
		Msg("agent event")
}

// Recorder keeps every update it receives. Published events are also offered,
// without blocking, on the Events channel.
type Recorder struct {
	mu            sync.Mutex
	notifications []string
	refreshes     []module.View
	routes        []string
	events        []module.AgentEvent

	Events chan module.AgentEvent
}

var _ module.UINotifier = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{Events: make(chan module.AgentEvent, 128)}
}

func (r *Recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, msg)
}

func (r *Recorder) Refresh(view module.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, view)
}

func (r *Recorder) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *Recorder) Publish(event module.AgentEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.Events <- event:
	default:
	}
}

func (r *Recorder) Notifications() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notifications...)
}

func (r *Recorder) Refreshes() []module.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]module.View(nil), r.refreshes...)
}

func (r *Recorder) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

// Published returns the events of the given kind.
func (r *Recorder) Published(kind module.AgentEventKind) []module.AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []module.AgentEvent
	for _, e := range r.events {
		if e.Kind == kind {
			events = append(events, e)
		}
	}
	return events
}
