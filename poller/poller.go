// Package poller waits for a message from a sender that carries a link with
// a given anchor text.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dhcgn/magiclink/filter"
	"github.com/dhcgn/magiclink/linkscan"
	"github.com/dhcgn/magiclink/localtime"
	"github.com/dhcgn/magiclink/message"
	"github.com/dhcgn/magiclink/model"
	"github.com/dhcgn/magiclink/state"
	"github.com/dhcgn/magiclink/stats"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// Session is an open, authenticated mailbox with the inbox selected.
type Session interface {
	// SearchFrom returns ids of messages from sender in server order,
	// oldest first.
	SearchFrom(ctx context.Context, sender string) ([]uint32, error)
	Fetch(ctx context.Context, id uint32) (model.Message, error)
	Close() error
}

// Opener opens mailbox sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Request is a single wait for a link.
type Request struct {
	model.Criterion
	Timeout  time.Duration
	Interval time.Duration
}

type Option func(*Poller)

func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

func WithConverter(c *localtime.Converter) Option {
	return func(p *Poller) { p.tz = c }
}

func WithFilter(f *filter.Filter) Option {
	return func(p *Poller) { p.filter = f }
}

func WithTracker(t state.Tracker) Option {
	return func(p *Poller) { p.tracker = t }
}

func WithEvents(s stats.Sink) Option {
	return func(p *Poller) { p.events = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

type Poller struct {
	opener  Opener
	clock   Clock
	tz      *localtime.Converter
	filter  *filter.Filter
	tracker state.Tracker
	events  stats.Sink
	logger  *slog.Logger
}

func New(opener Opener, opts ...Option) *Poller {
	p := &Poller{
		opener: opener,
		clock:  SystemClock{},
		tz:     localtime.System(),
		events: stats.Discard,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls until the latest message from req.Sender, dated at or after
// req.Since, contains an anchor whose text is exactly req.LinkText. It returns
// the anchor's href. found is false when the timeout elapses first; err is
// only set for invalid requests or when ctx ends.
//
// Mailbox calls run under a deadline of Timeout plus one Interval, so a server
// that stops answering cannot hold Wait past that bound.
func (p *Poller) Wait(ctx context.Context, req Request) (href string, found bool, err error) {
	if req.Sender == "" {
		return "", false, errors.New("sender is empty")
	}
	if req.LinkText == "" {
		return "", false, errors.New("link text is empty")
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.Interval <= 0 {
		req.Interval = DefaultInterval
	}

	start := p.clock.Now()
	if req.Since.IsZero() {
		req.Since = start
	}

	opCtx, cancel := context.WithTimeout(ctx, req.Timeout+req.Interval)
	defer cancel()

	var session Session
	defer func() {
		if session != nil {
			p.closeSession(session)
		}
	}()

	for attempt := 1; p.clock.Now().Sub(start) < req.Timeout; attempt++ {
		p.events.Emit(stats.Event{Type: stats.EventTypeAttempt})

		if session == nil {
			s, err := p.opener.Open(opCtx)
			if err != nil {
				p.transient(stats.StageSession, 0, err)
			} else {
				session = s
				p.events.Emit(stats.Event{Stage: stats.StageSession, Type: stats.EventTypeConnected})
			}
		}

		if session != nil {
			href, ok, err := p.check(opCtx, session, req)
			if err != nil {
				p.closeSession(session)
				session = nil
			}
			if ok {
				p.logger.Info("link found", "sender", req.Sender, "attempt", attempt, "elapsed", p.clock.Now().Sub(start))
				return href, true, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if opCtx.Err() != nil {
			break
		}
		if err := p.clock.Sleep(opCtx, req.Interval); err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			break
		}
	}

	p.logger.Info("no link before timeout", "sender", req.Sender, "timeout", req.Timeout)
	return "", false, nil
}

// check inspects the latest message from the sender once. A returned error
// means the session is no longer usable.
func (p *Poller) check(ctx context.Context, session Session, req Request) (string, bool, error) {
	ids, err := session.SearchFrom(ctx, req.Sender)
	if err != nil {
		p.transient(stats.StageSearch, 0, err)
		return "", false, err
	}
	if len(ids) == 0 {
		p.events.Emit(stats.Event{Stage: stats.StageSearch, Type: stats.EventTypeEmpty})
		return "", false, nil
	}
	latest := ids[len(ids)-1]

	msg, err := session.Fetch(ctx, latest)
	if err != nil {
		p.transient(stats.StageFetch, latest, err)
		return "", false, err
	}

	href, ok := p.match(msg, req)
	return href, ok, nil
}

func (p *Poller) match(msg model.Message, req Request) (string, bool) {
	parsed, err := message.Parse(msg.Raw)
	if err != nil {
		p.malformed(msg.ID, err)
		return "", false
	}
	date, err := parsed.DateIn(p.tz.Location())
	if err != nil {
		p.malformed(msg.ID, err)
		return "", false
	}

	if !p.tz.NotBefore(date, req.Since) {
		p.events.Emit(stats.Event{Stage: stats.StageMatch, Type: stats.EventTypeStale, MessageID: msg.ID})
		p.logger.Debug("latest message is stale", "id", msg.ID, "date", p.tz.Naive(date), "since", p.tz.Naive(req.Since))
		return "", false
	}

	if !p.filter.Allows(msg.Raw) {
		p.events.Emit(stats.Event{Stage: stats.StageMatch, Type: stats.EventTypeFiltered, MessageID: msg.ID})
		p.logger.Debug("latest message filtered", "id", msg.ID)
		return "", false
	}

	hash := message.Hash(msg.Raw)
	if p.tracker != nil && p.tracker.Consumed(hash) {
		p.events.Emit(stats.Event{Stage: stats.StageMatch, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
		p.logger.Debug("link of latest message already consumed", "id", msg.ID)
		return "", false
	}

	p.events.Emit(stats.Event{Stage: stats.StageMatch, Type: stats.EventTypeScanned, MessageID: msg.ID})
	for i, part := range parsed.HTML {
		href, ok, err := linkscan.FindHref(part, req.LinkText)
		if err != nil {
			p.logger.Debug("skipping unreadable html part", "id", msg.ID, "part", i, "err", err)
			continue
		}
		if !ok {
			continue
		}

		p.events.Emit(stats.Event{Stage: stats.StageMatch, Type: stats.EventTypeMatched, MessageID: msg.ID})
		if p.tracker != nil {
			if err := p.tracker.MarkConsumed(hash, req.Sender); err != nil {
				p.logger.Warn("could not record consumed link", "id", msg.ID, "err", err)
			}
		}
		return href, true
	}

	p.logger.Debug("no matching anchor in latest message", "id", msg.ID, "htmlParts", len(parsed.HTML))
	return "", false
}

func (p *Poller) transient(stage stats.Stage, id uint32, err error) {
	p.events.Emit(stats.Event{Stage: stage, Type: stats.EventTypeError, MessageID: id, Err: err})
	p.logger.Debug("transient mailbox error", "stage", stage, "id", id, "err", err)
}

func (p *Poller) malformed(id uint32, err error) {
	p.events.Emit(stats.Event{Stage: stats.StageMatch, Type: stats.EventTypeMalformed, MessageID: id, Err: err})
	p.logger.Debug("skipping malformed message", "id", id, "err", err)
}

func (p *Poller) closeSession(s Session) {
	if err := s.Close(); err != nil {
		p.logger.Debug("mailbox session close failed", "err", err)
	}
}
