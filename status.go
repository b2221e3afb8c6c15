package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/sync"
)

// Column widths for the pending table.
const (
	statusIDWidth      = 8
	statusSummaryWidth = 40
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, session, and queued changes",
		Long: `Display the sync state without running a pass.

Shows whether the service is reachable, who is signed in, whether a watch
daemon is running, and every change still waiting to be synced.`,
		RunE: runStatus,
	}
}

// statusView is the JSON shape of the status command.
type statusView struct {
	sync.SyncStatus

	User      string        `json:"user,omitempty"`
	DaemonPID int           `json:"daemon_pid,omitempty"`
	Pending   []pendingView `json:"pending"`
}

type pendingView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Summary    string    `json:"summary"`
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	a.monitor.Refresh(ctx)

	view := statusView{
		SyncStatus: a.orchestrator(nil).Status(ctx),
		Pending:    []pendingView{},
	}

	if u := a.session.CurrentUser(); u != nil {
		view.User = userLabel(u)
	}

	_, pid, err := liveDaemon(cc.Cfg.PIDPath())
	switch {
	case err == nil:
		view.DaemonPID = pid
	case !errors.Is(err, errNoDaemon):
		cc.Logger.Debug("checking watch daemon", slog.String("error", err.Error()))
	}

	snap := a.store.Load(ctx)
	for i := range snap.Mutations {
		m := &snap.Mutations[i]
		view.Pending = append(view.Pending, pendingView{
			ID:         m.ID,
			Type:       mutationTypeName(m),
			Summary:    summarizeMutation(m),
			RetryCount: m.RetryCount,
			EnqueuedAt: m.EnqueuedAt,
		})
	}

	if cc.Flags.JSON {
		return printStatusJSON(os.Stdout, &view)
	}

	printStatusText(os.Stdout, &view)

	return nil
}

func printStatusJSON(w io.Writer, v *statusView) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, v *statusView) {
	network := "offline"
	if v.IsOnline {
		network = "online"
	}

	user := v.User
	if user == "" {
		user = "(not logged in)"
	}

	daemon := "not running"
	if v.DaemonPID != 0 {
		daemon = "running (PID " + strconv.Itoa(v.DaemonPID) + ")"
	}

	fmt.Fprintf(w, "Network:      %s\n", network)
	fmt.Fprintf(w, "User:         %s\n", user)
	fmt.Fprintf(w, "Watch daemon: %s\n", daemon)
	fmt.Fprintf(w, "Last attempt: %s\n", formatOptionalTime(v.LastSyncAttemptAt))
	fmt.Fprintf(w, "Pending:      %d\n", v.PendingCount)

	if len(v.Pending) == 0 {
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(v.Pending))
	for _, p := range v.Pending {
		rows = append(rows, []string{
			truncate(p.ID, statusIDWidth),
			p.Type,
			truncate(p.Summary, statusSummaryWidth),
			strconv.Itoa(p.RetryCount),
			formatTime(p.EnqueuedAt),
		})
	}

	printTable(w, []string{"ID", "TYPE", "CHANGE", "RETRIES", "QUEUED"}, rows)
}

// mutationTypeName prefers the persisted name so records from a newer build
// still show what they are.
func mutationTypeName(m *sync.PendingMutation) string {
	if m.TypeName != "" {
		return m.TypeName
	}

	return m.Type.String()
}

// summarizeMutation renders a one-line description of the change.
func summarizeMutation(m *sync.PendingMutation) string {
	p, err := m.Payload()
	if err != nil {
		return "(unreadable)"
	}

	switch p := p.(type) {
	case sync.AddStatementPayload:
		return p.Date + " " + strconv.Quote(p.Text)
	case sync.EditStatementPayload:
		return fmt.Sprintf("%s #%d %q", p.Date, p.Index, p.Text)
	case sync.DeleteStatementPayload:
		return fmt.Sprintf("%s #%d", p.Date, p.Index)
	case sync.UpdateProfilePayload:
		return summarizeProfile(p.Profile)
	default:
		return ""
	}
}

func summarizeProfile(p sync.Profile) string {
	var s string

	add := func(field string) {
		if s != "" {
			s += ", "
		}

		s += field
	}

	if p.DisplayName != nil {
		add("display name")
	}

	if p.Timezone != nil {
		add("timezone")
	}

	if p.ReminderTime != nil {
		add("reminder time")
	}

	if p.DailyGoal != nil {
		add("daily goal")
	}

	return s
}
