package stats

import (
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageSession Stage = "session"
	StageSearch  Stage = "search"
	StageFetch   Stage = "fetch"
	StageMatch   Stage = "match"
)

type EventType string

const (
	EventTypeAttempt   EventType = "attempt"
	EventTypeConnected EventType = "connected"
	EventTypeEmpty     EventType = "empty"
	EventTypeStale     EventType = "stale"
	EventTypeMalformed EventType = "malformed"
	EventTypeFiltered  EventType = "filtered"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeScanned   EventType = "scanned"
	EventTypeMatched   EventType = "matched"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID uint32
	Err       error
	Detail    string
}

// Sink receives poll events synchronously.
type Sink interface {
	Emit(Event)
}

type Summary struct {
	Attempts   int
	Connects   int
	Empty      int
	Stale      int
	Malformed  int
	Filtered   int
	Duplicates int
	Scanned    int
	Matched    int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"attempts", s.Attempts,
		"connects", s.Connects,
		"empty", s.Empty,
		"stale", s.Stale,
		"malformed", s.Malformed,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"scanned", s.Scanned,
		"matched", s.Matched,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeAttempt:
		c.summary.Attempts++
	case EventTypeConnected:
		c.summary.Connects++
	case EventTypeEmpty:
		c.summary.Empty++
	case EventTypeStale:
		c.summary.Stale++
	case EventTypeMalformed:
		c.summary.Malformed++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeMatched:
		c.summary.Matched++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Tee forwards every event to each non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Emit(evt Event) {
	for _, s := range m {
		s.Emit(evt)
	}
}

// Discard drops all events.
var Discard Sink = multi(nil)

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Emit(evt Event) {
	r.collector.Emit(evt)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Report logs the summary. Errors are raised to warn level when nothing
// matched, so a persistent login failure is visible after a timeout.
func (r *Reporter) Report() {
	if r.logger == nil {
		return
	}
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if summary.Matched == 0 && summary.Errors > 0 {
		r.logger.Warn("poll summary", attrs...)
		return
	}
	r.logger.Info("poll summary", attrs...)
}
