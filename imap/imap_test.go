package imap

import (
	"context"
	"net"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/magiclink/model"
)

func TestNewDialer_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "empty host", opts: Options{Port: 993}},
		{name: "zero port", opts: Options{Host: "imap.example.com"}},
		{name: "tls and starttls", opts: Options{Host: "imap.example.com", Port: 993, UseTLS: true, StartTLS: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDialer(tt.opts, nil)
			require.Error(t, err)
		})
	}
}

func TestDialer_Defaults(t *testing.T) {
	d, err := NewDialer(Options{Host: "imap.gmail.com", Port: 993, UseTLS: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com:993", d.Address())
	assert.Equal(t, "INBOX", d.mailbox())
}

func TestDialer_UnreachableServer(t *testing.T) {
	d, err := NewDialer(Options{Host: "127.0.0.1", Port: 1}, nil)
	require.NoError(t, err)

	_, err = d.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial imap 127.0.0.1:1")
}

func TestDialer_CanceledContext(t *testing.T) {
	d, err := NewDialer(Options{Host: "127.0.0.1", Port: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDialer_SilentServerHonoursDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept connections and never send a greeting.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d, err := NewDialer(Options{Host: "127.0.0.1", Port: addr.Port, Credentials: model.Credentials{Username: "u", Password: "p"}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = d.Open(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFromCriteria(t *testing.T) {
	c := fromCriteria("noreply@medium.com")
	require.Len(t, c.Header, 1)
	assert.Equal(t, "From", c.Header[0].Key)
	assert.Equal(t, "noreply@medium.com", c.Header[0].Value)
}

func TestIsNo(t *testing.T) {
	assert.True(t, isNo(&imapv2.Error{Type: imapv2.StatusResponseTypeNo, Text: "invalid credentials"}))
	assert.False(t, isNo(&imapv2.Error{Type: imapv2.StatusResponseTypeBad}))
	assert.False(t, isNo(assert.AnError))
}
