package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/magiclink/stats"
)

// Spinner shows the state of a running wait on a terminal. A disabled
// Spinner ignores every call.
type Spinner struct {
	sp       *pterm.SpinnerPrinter
	sender   string
	timeout  time.Duration
	started  time.Time
	attempts int
	last     string
	mu       sync.Mutex
	enabled  bool
}

// New starts a spinner writing to w when enabled is true.
func New(w io.Writer, enabled bool, sender string, timeout time.Duration) *Spinner {
	s := &Spinner{
		sender:  sender,
		timeout: timeout,
		started: time.Now(),
		enabled: enabled,
	}
	if !enabled {
		return s
	}

	sp, err := pterm.DefaultSpinner.
		WithWriter(w).
		WithRemoveWhenDone(true).
		Start(s.text())
	if err != nil {
		s.enabled = false
		return s
	}
	s.sp = sp
	return s
}

// Emit implements stats.Sink.
func (s *Spinner) Emit(evt stats.Event) {
	if !s.enabled || s.sp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeAttempt:
		s.attempts++
	case stats.EventTypeEmpty:
		s.last = "no mail yet"
	case stats.EventTypeStale:
		s.last = "latest mail is older than cutoff"
	case stats.EventTypeFiltered:
		s.last = "latest mail filtered"
	case stats.EventTypeDuplicate:
		s.last = "latest link already used"
	case stats.EventTypeMalformed:
		s.last = "latest mail unreadable"
	case stats.EventTypeScanned:
		s.last = "no matching link in latest mail"
	case stats.EventTypeError:
		s.last = fmt.Sprintf("%s failed, retrying", evt.Stage)
	default:
		return
	}
	s.sp.UpdateText(s.text())
}

func (s *Spinner) text() string {
	remaining := s.timeout - time.Since(s.started)
	if remaining < 0 {
		remaining = 0
	}
	text := fmt.Sprintf("Waiting for mail from %s (attempt %d, %s left)", s.sender, s.attempts, remaining.Round(100*time.Millisecond))
	if s.last != "" {
		text += ": " + s.last
	}
	return text
}

// Stop finalizes the spinner with a success or failure line.
func (s *Spinner) Stop(found bool) {
	if !s.enabled || s.sp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if found {
		s.sp.Success(fmt.Sprintf("Link received after %d attempt(s)", s.attempts))
		return
	}
	s.sp.Fail(fmt.Sprintf("No link from %s within %s", s.sender, s.timeout))
}
