package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"chatmon/pkg/config"
	"chatmon/pkg/logger"
	"chatmon/pkg/models"
	"chatmon/pkg/resolve"
	"chatmon/pkg/store"
)

const (
	defaultCron = "0 18 * * *"
	// digestWindow is how far back one digest looks.
	digestWindow = 24 * time.Hour
	// journalRetention bounds the journal; entries older than this are
	// pruned after each digest run.
	journalRetention = 7 * 24 * time.Hour
)

// Start launches the digest scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.SummaryConfig, sink resolve.Sink) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("summary_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("summary_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid summary cron expression: %s", cfg.Cron)
	}
	if len(cfg.Chats) == 0 {
		logger.Warn("summary_no_chats")
	}

	logger.Info("summary_enabled", "cron", cronExpr, "chats", len(cfg.Chats))
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr, sink)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and runs the digest.
func runScheduler(ctx context.Context, cfg config.SummaryConfig, cronExpr string, sink resolve.Sink) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("summary_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("summary_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, cfg, sink); err != nil {
				logger.Error("summary_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("summary_scheduler_stopping")
			return
		}
	}
}

// RunOnce builds a digest of the last day's actions, sends it to the
// configured chats, and prunes journal entries past retention.
func RunOnce(ctx context.Context, cfg config.SummaryConfig, sink resolve.Sink) error {
	if !store.Ready() {
		return fmt.Errorf("journal not open")
	}
	now := time.Now().UTC()
	actions, err := store.ListActionsSince(now.Add(-digestWindow).UnixNano())
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	text := Format(now, actions)
	for _, chat := range cfg.Chats {
		if err := sink.Send(ctx, chat, text); err != nil {
			logger.Error("summary_send_failed", "chat", chat, "error", err)
		}
	}
	pruned, err := store.PruneBefore(now.Add(-journalRetention).UnixNano())
	if err != nil {
		logger.Warn("summary_prune_failed", "error", err)
	} else if pruned > 0 {
		logger.Info("summary_pruned_journal", "count", pruned)
	}
	logger.Info("summary_sent", "actions", len(actions), "chats", len(cfg.Chats))
	return nil
}

// Format renders the digest text for one day's actions.
func Format(now time.Time, actions []models.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily activity summary - %s\n\n", now.Format("2006-01-02"))
	if len(actions) == 0 {
		b.WriteString("No activity in the last 24 hours.")
		return b.String()
	}

	counts := map[string]int{}
	for _, a := range actions {
		counts[a.Kind]++
	}
	fmt.Fprintf(&b, "Total actions: %d\n", len(actions))
	for _, kind := range []string{
		models.ActionAIReply,
		models.ActionTaskCreated,
		models.ActionCancelled,
		models.ActionTimedOut,
		models.ActionFailed,
	} {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", kind, n)
		}
	}
	b.WriteString("\nRecent:\n")
	tail := actions
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	for _, a := range tail {
		ts := time.Unix(0, a.TS).UTC().Format("15:04")
		line := fmt.Sprintf("[%s] %s %s", ts, a.Kind, a.Summary)
		if a.Error != "" {
			line += " (error: " + a.Error + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
