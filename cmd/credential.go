package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/magiclink/config"
	"github.com/dhcgn/magiclink/credential"
)

func newCredentialCmd() *cobra.Command {
	credCmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the IMAP password kept in the OS keyring",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the password for --imap-user",
		Long:  "Prompts for the password on a terminal, or reads one line from stdin when it is piped.",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			user, err := config.LoadUsername(c)
			if err != nil {
				return err
			}
			password, err := readPassword(c.ErrOrStderr(), c.InOrStdin(), user)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password is empty")
			}
			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Set(user, password); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Stored password for %s\n", user)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored password for --imap-user",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			user, err := config.LoadUsername(c)
			if err != nil {
				return err
			}
			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Delete(user); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Deleted password for %s\n", user)
			return nil
		},
	}

	credCmd.AddCommand(set, del)
	return credCmd
}

func readPassword(prompt io.Writer, in io.Reader, user string) (string, error) {
	password, err := credential.Prompt(prompt, fmt.Sprintf("IMAP password for %s: ", user))
	if errors.Is(err, credential.ErrNoTerminal) {
		if in == nil {
			in = os.Stdin
		}
		return credential.ReadLine(in)
	}
	return password, err
}
