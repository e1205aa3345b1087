// Package message decodes raw RFC 5322 messages fetched from a mailbox.
package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var (
	ErrMissingDate = errors.New("message has no Date header")
	ErrInvalidDate = errors.New("message Date header is invalid")
)

// Parsed holds the parts of a message needed for link matching.
type Parsed struct {
	Header mail.Header
	HTML   [][]byte
}

// Parse decodes raw and collects every text/html part in document order.
// Transfer encodings and charsets are decoded.
func Parse(raw []byte) (*Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	parsed := &Parsed{Header: mr.Header}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			contentType, _, _ = h.ContentType()
		}
		if !strings.EqualFold(contentType, "text/html") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read html part: %w", err)
		}
		parsed.HTML = append(parsed.HTML, body)
	}

	return parsed, nil
}

// Date returns the instant from the Date header.
func (p *Parsed) Date() (time.Time, error) {
	return p.DateIn(time.Local)
}

// DateIn is Date, except that a header without a zone is read as wall-clock
// time in loc.
func (p *Parsed) DateIn(loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(p.Header.Get("Date"))
	if value == "" {
		return time.Time{}, ErrMissingDate
	}
	t, err := p.Header.Date()
	if err == nil {
		return t, nil
	}
	if naive, ok := parseZoneless(value, loc); ok {
		return naive, nil
	}
	return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
}

var zonelessLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05",
	"Mon, 2 Jan 2006 15:04",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04",
}

func parseZoneless(value string, loc *time.Location) (time.Time, bool) {
	value = strings.Join(strings.Fields(value), " ")
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Subject returns the decoded Subject header, or the raw value if it cannot
// be decoded.
func (p *Parsed) Subject() string {
	s, err := p.Header.Subject()
	if err != nil {
		return p.Header.Get("Subject")
	}
	return s
}

// Hash identifies a message by content.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}
