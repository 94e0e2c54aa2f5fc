package summary

import (
	"context"
	"strings"
	"testing"
	"time"

	"chatmon/pkg/config"
	"chatmon/pkg/models"
	"chatmon/pkg/store"
)

func TestFormat_Empty(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	out := Format(now, nil)
	if !strings.Contains(out, "Daily activity summary - 2025-03-10") {
		t.Fatalf("header wrong:\n%s", out)
	}
	for _, r := range out {
		if r > 127 {
			t.Fatalf("digest must stay plain ASCII, found %q in:\n%s", r, out)
		}
	}
	if !strings.Contains(out, "No activity in the last 24 hours.") {
		t.Fatalf("empty digest wrong:\n%s", out)
	}
}

func TestFormat_CountsAndTail(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	base := now.Add(-time.Hour)
	var actions []models.Action
	for i := 0; i < 12; i++ {
		actions = append(actions, models.Action{
			Kind:    models.ActionAIReply,
			Summary: "reply",
			TS:      base.Add(time.Duration(i) * time.Minute).UnixNano(),
		})
	}
	actions = append(actions, models.Action{
		Kind:    models.ActionFailed,
		Summary: "task",
		Error:   "erp down",
		TS:      now.Add(-time.Minute).UnixNano(),
	})

	out := Format(now, actions)
	if !strings.Contains(out, "Total actions: 13") {
		t.Fatalf("total missing:\n%s", out)
	}
	if !strings.Contains(out, models.ActionAIReply+": 12") {
		t.Fatalf("per-kind count missing:\n%s", out)
	}
	if !strings.Contains(out, "(error: erp down)") {
		t.Fatalf("error detail missing:\n%s", out)
	}
	// tail is capped at 10 lines
	if got := strings.Count(out, "[17:"); got > 10 {
		t.Fatalf("tail too long: %d entries\n%s", got, out)
	}
	if !strings.Contains(out, "[17:59] "+models.ActionFailed) {
		t.Fatalf("newest entry missing from tail:\n%s", out)
	}
}

type digestSink struct {
	sent map[string]string
}

func (s *digestSink) Send(ctx context.Context, recipient, text string) error {
	if s.sent == nil {
		s.sent = map[string]string{}
	}
	s.sent[recipient] = text
	return nil
}

func TestRunOnce(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.AppendAction(models.Action{ID: "a", Kind: models.ActionTaskCreated, Summary: "s"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	sink := &digestSink{}
	cfg := config.SummaryConfig{Enabled: true, Chats: []string{"admin@g.us", "ops@g.us"}}
	if err := RunOnce(context.Background(), cfg, sink); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(sink.sent) != 2 {
		t.Fatalf("expected 2 digests, got %d", len(sink.sent))
	}
	if !strings.Contains(sink.sent["admin@g.us"], "Total actions: 1") {
		t.Fatalf("digest content wrong:\n%s", sink.sent["admin@g.us"])
	}
}

func TestStart_Disabled(t *testing.T) {
	cancel, err := Start(context.Background(), config.SummaryConfig{}, &digestSink{})
	if err != nil {
		t.Fatalf("disabled start must not fail: %v", err)
	}
	cancel()
}

func TestStart_InvalidCron(t *testing.T) {
	cfg := config.SummaryConfig{Enabled: true, Cron: "not a cron"}
	if _, err := Start(context.Background(), cfg, &digestSink{}); err == nil {
		t.Fatalf("invalid cron must fail")
	}
}
