package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/sync"
)

const dateLayout = "2006-01-02"

func newStatementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Queue changes to journal statements",
	}

	cmd.PersistentFlags().Bool("sync", false, "sync immediately after queueing")

	add := &cobra.Command{
		Use:   "add <text>...",
		Short: "Add a statement to a day's entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}

			return enqueue(cmd, sync.AddStatementPayload{Date: date, Text: strings.Join(args, " ")})
		},
	}
	add.Flags().String("date", "", "entry date (YYYY-MM-DD, default today)")

	edit := &cobra.Command{
		Use:   "edit <index> <text>...",
		Short: "Replace the statement at index",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}

			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			return enqueue(cmd, sync.EditStatementPayload{Date: date, Index: index, Text: strings.Join(args[1:], " ")})
		},
	}
	edit.Flags().String("date", "", "entry date (YYYY-MM-DD, default today)")

	del := &cobra.Command{
		Use:   "delete <index>",
		Short: "Remove the statement at index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}

			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			return enqueue(cmd, sync.DeleteStatementPayload{Date: date, Index: index})
		},
	}
	del.Flags().String("date", "", "entry date (YYYY-MM-DD, default today)")

	cmd.AddCommand(add, edit, del)

	return cmd
}

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Queue changes to the user profile",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields; unset flags are left unchanged",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := profileFromFlags(cmd)
			if err != nil {
				return err
			}

			return enqueue(cmd, sync.UpdateProfilePayload{Profile: p})
		},
	}

	set.Flags().String("display-name", "", "display name")
	set.Flags().String("timezone", "", "IANA time zone, e.g. Europe/Helsinki")
	set.Flags().String("reminder-time", "", "daily reminder time (HH:MM)")
	set.Flags().Int("daily-goal", 0, "statements per day")
	set.Flags().Bool("sync", false, "sync immediately after queueing")

	cmd.AddCommand(set)

	return cmd
}

// profileFromFlags builds a patch from the flags the user actually set.
func profileFromFlags(cmd *cobra.Command) (sync.Profile, error) {
	var p sync.Profile

	flags := cmd.Flags()

	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}

		v, _ := flags.GetString(name)

		return &v
	}

	p.DisplayName = str("display-name")
	p.Timezone = str("timezone")
	p.ReminderTime = str("reminder-time")

	if flags.Changed("daily-goal") {
		v, _ := flags.GetInt("daily-goal")
		p.DailyGoal = &v
	}

	if p == (sync.Profile{}) {
		return p, fmt.Errorf("nothing to update, pass at least one field flag")
	}

	return p, nil
}

// dateFlag returns --date, defaulting to today in local time.
func dateFlag(cmd *cobra.Command) (string, error) {
	date, _ := cmd.Flags().GetString("date")
	if date == "" {
		return time.Now().Format(dateLayout), nil
	}

	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
	}

	return date, nil
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q, want a non-negative integer", s)
	}

	return i, nil
}

// enqueue persists p and, with --sync, requests an immediate pass.
func enqueue(cmd *cobra.Command, p sync.Payload) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	// Writes made while signed out would be attributed to nobody.
	if _, err := a.requireUser(); err != nil {
		return err
	}

	m, err := a.store.Enqueue(ctx, p)
	if err != nil {
		return err
	}

	cc.Logger.Debug("mutation queued",
		slog.String("id", m.ID),
		slog.String("type", m.Type.String()),
	)
	cc.Statusf("Queued %s (%s).\n", m.Type, m.ID)

	if doSync, _ := cmd.Flags().GetBool("sync"); doSync {
		return requestSync(shutdownContext(ctx, cc.Logger), cc, a)
	}

	return nil
}
