// Package cmd holds the magiclink subcommands.
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dhcgn/magiclink/config"
	"github.com/dhcgn/magiclink/credential"
)

// AddCommands attaches every subcommand to root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(newLinksCmd(), newLocaltimeCmd(), newCredentialCmd())
}

// ResolvePassword fills in the IMAP password from the keyring, then from a
// terminal prompt written to out, when no flag or environment variable set it.
func ResolvePassword(cfg config.Config, out io.Writer) (config.Config, error) {
	if !cfg.UsesIMAP() || cfg.IMAPPass != "" {
		return cfg, nil
	}

	if password := credential.Lookup(cfg.IMAPUser); password != "" {
		cfg.IMAPPass = password
		return cfg, nil
	}

	password, err := credential.Prompt(out, fmt.Sprintf("IMAP password for %s: ", cfg.IMAPUser))
	if err != nil && !errors.Is(err, credential.ErrNoTerminal) {
		return cfg, err
	}
	cfg.IMAPPass = password
	return cfg, cfg.RequirePassword()
}
