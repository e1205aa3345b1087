package model

import "time"

// Credentials authenticate against a mailbox. The password is never logged.
type Credentials struct {
	Username string
	Password string
}

// Criterion describes which message carries the wanted link.
type Criterion struct {
	Sender   string
	LinkText string
	Since    time.Time
}

// Message is a raw message as returned by a mailbox source.
type Message struct {
	ID  uint32
	Raw []byte
}

// Anchor is a single hyperlink found in an HTML body.
type Anchor struct {
	Text string
	Href string
}
