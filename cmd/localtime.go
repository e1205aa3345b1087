package cmd

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/magiclink/config"
	"github.com/dhcgn/magiclink/localtime"
)

func newLocaltimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "localtime <timestamp>",
		Short: "Print a timestamp as naive local time",
		Long:  "Accepts RFC 3339 or an RFC 5322 Date header value and prints its wall clock in --timezone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			name, err := config.LoadTimezone(c)
			if err != nil {
				return err
			}
			tz, err := localtime.New(name)
			if err != nil {
				return err
			}
			naive, err := formatLocal(args[0], tz)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), naive)
			return nil
		},
	}
}

func formatLocal(value string, tz *localtime.Converter) (string, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, err = mail.ParseDate(value)
		if err != nil {
			return "", fmt.Errorf("parse %q: expected RFC 3339 or RFC 5322 date", value)
		}
	}
	return tz.Naive(t).Format(naiveLayout), nil
}
