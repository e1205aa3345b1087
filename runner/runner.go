package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/magiclink/config"
	"github.com/dhcgn/magiclink/filter"
	"github.com/dhcgn/magiclink/imap"
	"github.com/dhcgn/magiclink/localtime"
	"github.com/dhcgn/magiclink/mbox"
	"github.com/dhcgn/magiclink/poller"
	"github.com/dhcgn/magiclink/progress"
	"github.com/dhcgn/magiclink/state"
	"github.com/dhcgn/magiclink/stats"
)

// Result is the outcome of one wait.
type Result struct {
	Href     string
	Found    bool
	Summary  stats.Summary
	Duration time.Duration
}

type Option func(*Runner)

// WithOpener replaces the mailbox derived from the config.
func WithOpener(o poller.Opener) Option {
	return func(r *Runner) { r.opener = o }
}

func WithClock(c poller.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithProgress sets where the spinner is drawn. Nil disables it.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) { r.progressOut = w }
}

// Runner wires a config into a poller and owns the resources of one run.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	opener      poller.Opener
	clock       poller.Clock
	tracker     state.Tracker
	filter      *filter.Filter
	tz          *localtime.Converter
	progressOut io.Writer

	closeOnce sync.Once
	closeErr  error
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	runID := uuid.NewString()
	r := &Runner{
		cfg:    cfg,
		logger: logger.With("run", runID),
		runID:  runID,
		clock:  poller.SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}

	tz, err := localtime.New(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	r.tz = tz

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	r.filter = f

	if r.opener == nil {
		opener, err := NewOpener(cfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.opener = opener
	}

	if cfg.StateDir != "" {
		tracker, err := state.NewFileTracker(cfg.StateDir)
		if err != nil {
			return nil, fmt.Errorf("state tracker: %w", err)
		}
		r.tracker = tracker
	} else {
		r.tracker = state.NewMemoryTracker()
	}

	return r, nil
}

// NewOpener returns the mailbox named by cfg: a local mbox file when one is
// set, otherwise the IMAP server.
func NewOpener(cfg config.Config, logger *slog.Logger) (poller.Opener, error) {
	if !cfg.UsesIMAP() {
		src, err := mbox.NewSource(cfg.MboxPath, logger)
		if err != nil {
			return nil, fmt.Errorf("mbox.NewSource: %w", err)
		}
		return src, nil
	}

	dialer, err := imap.NewDialer(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Credentials:        cfg.Credentials(),
		UseTLS:             cfg.UseTLS,
		StartTLS:           cfg.StartTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Mailbox:            cfg.Mailbox,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("imap.NewDialer: %w", err)
	}
	return dialer, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

// Run waits for the link once and releases the tracker afterwards.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	defer r.Close()

	started := time.Now()
	reporter := stats.NewReporter(r.logger)
	spinner := progress.New(r.progressOut, r.progressOut != nil && !r.cfg.NoProgress, r.cfg.Sender, r.timeout())

	p := poller.New(r.opener,
		poller.WithClock(r.clock),
		poller.WithConverter(r.tz),
		poller.WithFilter(r.filter),
		poller.WithTracker(r.tracker),
		poller.WithEvents(stats.Tee(reporter, spinner)),
		poller.WithLogger(r.logger),
	)

	r.logger.Info("waiting for link",
		"sender", r.cfg.Sender,
		"linkText", r.cfg.LinkText,
		"since", r.cfg.Since,
		"timeout", r.timeout(),
		"source", r.source(),
	)

	href, found, err := p.Wait(ctx, poller.Request{
		Criterion: r.cfg.Criterion(),
		Timeout:   r.cfg.Timeout,
		Interval:  r.cfg.Interval,
	})
	spinner.Stop(found)
	reporter.Report()

	result := Result{
		Href:     href,
		Found:    found,
		Summary:  reporter.Summary(),
		Duration: time.Since(started),
	}
	if err != nil {
		r.logger.Error("wait failed", "duration", result.Duration, "err", err)
		return result, err
	}
	if closeErr := r.Close(); closeErr != nil {
		return result, fmt.Errorf("close state: %w", closeErr)
	}

	r.logger.Info("wait completed", "found", found, "duration", result.Duration)
	return result, nil
}

// Close releases the tracker. It is safe to call more than once.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		if r.tracker != nil {
			r.closeErr = r.tracker.Close()
		}
	})
	return r.closeErr
}

func (r *Runner) timeout() time.Duration {
	if r.cfg.Timeout <= 0 {
		return poller.DefaultTimeout
	}
	return r.cfg.Timeout
}

func (r *Runner) source() string {
	if r.cfg.UsesIMAP() {
		return fmt.Sprintf("imap://%s:%d/%s", r.cfg.IMAPHost, r.cfg.IMAPPort, r.cfg.Mailbox)
	}
	return r.cfg.MboxPath
}
