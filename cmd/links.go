package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/magiclink/config"
	"github.com/dhcgn/magiclink/linkscan"
	"github.com/dhcgn/magiclink/localtime"
	"github.com/dhcgn/magiclink/message"
	"github.com/dhcgn/magiclink/poller"
	"github.com/dhcgn/magiclink/runner"
)

const naiveLayout = "2006-01-02 15:04:05"

func newLinksCmd() *cobra.Command {
	linksCmd := &cobra.Command{
		Use:   "links",
		Short: "Show the anchors of the latest mail from --sender",
		Long: "Connects once, fetches the latest mail from --sender and lists every anchor it contains. " +
			"Use it to find the exact --link-text to wait for.",
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c, time.Now())
			if err != nil {
				return err
			}
			cfg, err = ResolvePassword(cfg, c.ErrOrStderr())
			if err != nil {
				return err
			}
			tz, err := localtime.New(cfg.Timezone)
			if err != nil {
				return err
			}
			opener, err := runner.NewOpener(cfg, slog.Default())
			if err != nil {
				return err
			}
			return printLinks(c.Context(), c.OutOrStdout(), opener, cfg, tz)
		},
	}
	linksCmd.Flags().String("link-text", "", "Highlight anchors whose text is exactly this")
	return linksCmd
}

// printLinks reports the latest message from cfg.Sender and its anchors.
func printLinks(ctx context.Context, out io.Writer, opener poller.Opener, cfg config.Config, tz *localtime.Converter) error {
	session, err := opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	defer session.Close()

	ids, err := session.SearchFrom(ctx, cfg.Sender)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintf(out, "No mail from %s\n", cfg.Sender)
		return nil
	}

	latest := ids[len(ids)-1]
	msg, err := session.Fetch(ctx, latest)
	if err != nil {
		return fmt.Errorf("fetch %d: %w", latest, err)
	}
	parsed, err := message.Parse(msg.Raw)
	if err != nil {
		return fmt.Errorf("parse %d: %w", latest, err)
	}

	fmt.Fprintf(out, "Messages from %s: %d (latest #%d)\n", cfg.Sender, len(ids), latest)
	fmt.Fprintf(out, "Subject: %s\n", parsed.Subject())
	if date, err := parsed.DateIn(tz.Location()); err != nil {
		fmt.Fprintf(out, "Date: %v\n", err)
	} else {
		fresh := "older than"
		if tz.NotBefore(date, cfg.Since) {
			fresh = "not older than"
		}
		fmt.Fprintf(out, "Date: %s local (%s cutoff %s)\n",
			tz.Naive(date).Format(naiveLayout), fresh, tz.Naive(cfg.Since).Format(naiveLayout))
	}
	fmt.Fprintln(out)

	data := pterm.TableData{{"#", "Text", "Href", "Match"}}
	n := 0
	for _, doc := range parsed.HTML {
		anchors, err := linkscan.Anchors(doc)
		if err != nil {
			return err
		}
		for _, a := range anchors {
			n++
			match := ""
			if cfg.LinkText != "" && a.Href != "" && a.Text == cfg.LinkText {
				match = "yes"
			}
			data = append(data, []string{strconv.Itoa(n), a.Text, a.Href, match})
		}
	}
	if n == 0 {
		fmt.Fprintln(out, "No anchors in HTML parts")
		return nil
	}

	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}
