package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/magiclink/model"
	"github.com/dhcgn/magiclink/poller"
)

var ErrMessageNotFound = errors.New("message not found in mbox")

// Source serves an mbox file, such as a local mail spool, as a mailbox.
// The file is re-read on every search so newly delivered mail is seen.
type Source struct {
	path   string
	logger *slog.Logger
}

func NewSource(path string, logger *slog.Logger) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{path: path, logger: logger}, nil
}

// Open implements poller.Opener. It fails when the file cannot be read.
func (s *Source) Open(_ context.Context) (poller.Session, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open mbox: %s is a directory", s.path)
	}
	return &session{source: s}, nil
}

type session struct {
	source *Source
	// snapshot holds the messages read by the last search; ids index into it.
	snapshot [][]byte
}

// SearchFrom matches sender as a case-insensitive substring of the From
// header, the same way IMAP SEARCH FROM does. IDs are 1-based positions in
// file order.
func (s *session) SearchFrom(ctx context.Context, sender string) ([]uint32, error) {
	messages, err := readAll(ctx, s.source.path)
	if err != nil {
		return nil, err
	}
	s.snapshot = messages

	needle := strings.ToLower(sender)
	var ids []uint32
	for idx, raw := range messages {
		msg, err := mail.ReadMessage(bytes.NewReader(raw))
		if err != nil {
			s.source.logger.Debug("skipping unreadable mbox message", "index", idx, "err", err)
			continue
		}
		if strings.Contains(strings.ToLower(msg.Header.Get("From")), needle) {
			ids = append(ids, uint32(idx+1))
		}
	}
	return ids, nil
}

func (s *session) Fetch(_ context.Context, id uint32) (model.Message, error) {
	if id == 0 || int(id) > len(s.snapshot) {
		return model.Message{}, fmt.Errorf("fetch %d: %w", id, ErrMessageNotFound)
	}
	return model.Message{ID: id, Raw: s.snapshot[id-1]}, nil
}

func (s *session) Close() error {
	s.snapshot = nil
	return nil
}

func readAll(ctx context.Context, path string) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	var messages [][]byte
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return messages, nil
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}
		messages = append(messages, raw)
	}
}
