// Package telemetry carries structured events out of the appraisal stages.
// Components receive an Emitter instead of logging directly, so tests can
// assert on what a stage reported without parsing log output.
package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stage names used in events.
const (
	StageIdentify  = "identify"
	StagePricing   = "pricing"
	StageAuthority = "authority"
	StageMarket    = "market"
	StageConsensus = "consensus"
	StageBlend     = "blend"
)

// Event is one observable fact emitted by a stage.
type Event struct {
	Time      time.Time
	RequestID string
	Stage     string
	Name      string
	Provider  string
	Fields    map[string]any
}

// Emitter receives events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(e Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(Event) {}

// LogEmitter writes events through zerolog.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter returns an emitter backed by the global zerolog logger.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: log.Logger}
}

// NewLogEmitterWithLogger returns an emitter writing to logger.
func NewLogEmitterWithLogger(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(e Event) {
	ev := l.logger.Info().Str("stage", e.Stage)
	if e.RequestID != "" {
		ev = ev.Str("requestId", e.RequestID)
	}
	if e.Provider != "" {
		ev = ev.Str("provider", e.Provider)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg(e.Name)
}

// Recorder keeps every event in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Scoped stamps every event with a request ID and stage before forwarding it.
type Scoped struct {
	Next      Emitter
	RequestID string
	Stage     string
}

func (s Scoped) Emit(e Event) {
	if s.Next == nil {
		return
	}
	if e.RequestID == "" {
		e.RequestID = s.RequestID
	}
	if e.Stage == "" {
		e.Stage = s.Stage
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.Next.Emit(e)
}

// OrNop returns e, or Nop when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return Nop{}
	}
	return e
}
