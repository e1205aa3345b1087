// Package credential stores IMAP passwords in the OS keyring and prompts for
// them on a terminal.
package credential

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const serviceName = "magiclink"

// ErrNotFound is returned when the keyring holds no password for a user.
var ErrNotFound = keyring.ErrKeyNotFound

// Store reads and writes passwords keyed by IMAP username.
type Store struct {
	ring keyring.Keyring
}

// Open returns the keyring-backed store.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func (s *Store) Get(username string) (string, error) {
	item, err := s.ring.Get(username)
	if err != nil {
		return "", fmt.Errorf("getting password for %q: %w", username, err)
	}
	return string(item.Data), nil
}

func (s *Store) Set(username, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         username,
		Data:        []byte(password),
		Label:       "magiclink IMAP password",
		Description: "IMAP password for " + username,
	})
	if err != nil {
		return fmt.Errorf("setting password for %q: %w", username, err)
	}
	return nil
}

func (s *Store) Delete(username string) error {
	if err := s.ring.Remove(username); err != nil {
		return fmt.Errorf("deleting password for %q: %w", username, err)
	}
	return nil
}

// Lookup returns the stored password for username, or "" when the keyring is
// unavailable or holds nothing.
func Lookup(username string) string {
	store, err := Open()
	if err != nil {
		return ""
	}
	password, err := store.Get(username)
	if err != nil {
		return ""
	}
	return password
}

// ErrNoTerminal is returned by Prompt when stdin is not interactive.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// Prompt asks for a password on stdin without echo, writing the prompt to out.
func Prompt(out io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}

	fmt.Fprint(out, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

// ReadLine reads a single line, used when the password is piped in.
func ReadLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
