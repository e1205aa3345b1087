package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/magiclink/model"
	"github.com/dhcgn/magiclink/poller"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAuthFailed      = errors.New("imap login rejected")
)

type Options struct {
	Host               string
	Port               int
	Credentials        model.Credentials
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	Mailbox            string
}

// Dialer opens authenticated IMAP sessions with the mailbox selected.
type Dialer struct {
	opts   Options
	logger *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*Dialer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.UseTLS && opts.StartTLS {
		return nil, fmt.Errorf("use-tls and starttls are mutually exclusive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dialer{opts: opts, logger: logger}, nil
}

func (d *Dialer) mailbox() string {
	if d.opts.Mailbox == "" {
		return "INBOX"
	}
	return d.opts.Mailbox
}

// Address returns host:port of the server.
func (d *Dialer) Address() string {
	return net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
}

// Open implements poller.Opener.
func (d *Dialer) Open(ctx context.Context) (poller.Session, error) {
	s, err := d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Dial connects, logs in and selects the configured mailbox.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	address := d.Address()
	// The dial and TLS handshake end at the context deadline.
	dialer := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}
	options := &imapclient.Options{Dialer: dialer}
	if d.opts.UseTLS || d.opts.StartTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	switch {
	case d.opts.UseTLS:
		client, err = imapclient.DialTLS(address, options)
	case d.opts.StartTLS:
		client, err = imapclient.DialStartTLS(address, options)
	default:
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	// A cancelled or expired context tears the connection down so blocked
	// commands return.
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	s := &Session{client: client, stopClose: stopClose, logger: d.logger}

	if err := client.Login(d.opts.Credentials.Username, d.opts.Credentials.Password).Wait(); err != nil {
		s.abort()
		if isNo(err) {
			return nil, fmt.Errorf("%w for %s: %v", ErrAuthFailed, d.opts.Credentials.Username, err)
		}
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	selected, err := client.Select(d.mailbox(), &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("select mailbox %s: %w", d.mailbox(), err)
	}

	d.logger.Debug("imap session established", "address", address, "user", d.opts.Credentials.Username, "mailbox", d.mailbox(), "messages", selected.NumMessages, "tls", d.opts.UseTLS, "starttls", d.opts.StartTLS)

	return s, nil
}

// Session is a logged in IMAP connection with a mailbox selected read-only.
type Session struct {
	client    *imapclient.Client
	stopClose func() bool
	logger    *slog.Logger
	closed    bool
}

// SearchFrom and Fetch are released by the dial context: when it ends the
// connection is closed and the pending command fails.

// SearchFrom runs UID SEARCH FROM sender. UIDs are returned ascending, so the
// last one is the most recent arrival.
func (s *Session) SearchFrom(_ context.Context, sender string) ([]uint32, error) {
	data, err := s.client.UIDSearch(fromCriteria(sender), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search from %s: %w", sender, err)
	}

	uids := data.AllUIDs()
	ids := make([]uint32, len(uids))
	for i, uid := range uids {
		ids[i] = uint32(uid)
	}
	return ids, nil
}

// Fetch retrieves the full RFC 822 content of uid without setting \Seen.
func (s *Session) Fetch(_ context.Context, id uint32) (model.Message, error) {
	section := &imapv2.FetchItemBodySection{Peek: true}
	opts := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(id)), opts)
	defer cmd.Close()

	data := cmd.Next()
	if data == nil {
		if err := cmd.Close(); err != nil {
			return model.Message{}, fmt.Errorf("fetch uid %d: %w", id, err)
		}
		return model.Message{}, fmt.Errorf("fetch uid %d: %w", id, ErrMessageNotFound)
	}

	buf, err := data.Collect()
	if err != nil {
		return model.Message{}, fmt.Errorf("collect uid %d: %w", id, err)
	}
	if err := cmd.Close(); err != nil {
		return model.Message{}, fmt.Errorf("fetch uid %d: %w", id, err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return model.Message{}, fmt.Errorf("fetch uid %d: server returned no body", id)
	}
	return model.Message{ID: id, Raw: raw}, nil
}

// Close logs out and closes the connection. It is safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopClose()

	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("imap logout failed", "err", err)
	}
	if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close imap connection: %w", err)
	}
	return nil
}

func (s *Session) abort() {
	s.closed = true
	s.stopClose()
	_ = s.client.Close()
}

func fromCriteria(sender string) *imapv2.SearchCriteria {
	return &imapv2.SearchCriteria{
		Header: []imapv2.SearchCriteriaHeaderField{
			{Key: "From", Value: sender},
		},
	}
}

func isNo(err error) bool {
	var respErr *imapv2.Error
	return errors.As(err, &respErr) && respErr.Type == imapv2.StatusResponseTypeNo
}
