package watch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chatmon/pkg/ai"
	"chatmon/pkg/logger"
	"chatmon/pkg/models"
	"chatmon/pkg/registry"
	"chatmon/pkg/resolve"
	"chatmon/pkg/source"
	"chatmon/pkg/store"
)

// AIClient produces a completion for a formatted conversation.
type AIClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// TaskCreator creates a record in the downstream system.
type TaskCreator interface {
	CreateTask(ctx context.Context, d models.TaskDetails) (models.TaskResult, error)
}

// Config is the watcher's policy surface.
type Config struct {
	AITag   string
	TaskTag string

	PollInterval   time.Duration
	InteractionTTL time.Duration

	DefaultContext int
	ContextMin     int
	ContextMax     int

	// ConfirmAI asks for a context count before answering; ConfirmTasks
	// asks for a yes/cancel before creating a record.
	ConfirmAI    bool
	ConfirmTasks bool

	// AutoResolve accepts a single confident assignee match without a
	// disambiguation prompt.
	AutoResolve bool

	// AdminChat/AdminSender form the correlation key for assignee
	// disambiguation prompts.
	AdminChat   string
	AdminSender string
}

// ConfirmationPayload rides on a pending confirmation interaction. Task is
// set for task-creation confirmations; nil means an AI context-count
// confirmation.
type ConfirmationPayload struct {
	Origin    models.Message
	Suggested int
	Min, Max  int

	Task       *models.TaskDetails
	SimpleTask bool
}

// pendingAssignment is a task waiting on assignee disambiguation.
type pendingAssignment struct {
	origin  models.Message
	details models.TaskDetails
	simple  bool
}

// Watcher incrementally scans the message log for tagged messages and
// drives them to completed actions, opening pending interactions whenever
// a human reply is needed first.
type Watcher struct {
	Source      source.MessageSource
	Sink        resolve.Sink
	Registry    *registry.Registry
	Coordinator *resolve.Coordinator
	AI          AIClient
	Tasks       TaskCreator
	Cfg         Config

	watermarks  map[string]time.Time
	assignments map[string]pendingAssignment
	busy        atomic.Bool
	now         func() time.Time
}

const (
	kindAI   = "ai"
	kindTask = "task"

	// startupLookback lets the first cycle pick up messages that arrived
	// just before the process started.
	startupLookback = 5 * time.Minute
)

// New prepares a watcher; watermarks start slightly in the past.
func New(src source.MessageSource, sink resolve.Sink, reg *registry.Registry, coord *resolve.Coordinator, aic AIClient, tasks TaskCreator, cfg Config) *Watcher {
	if cfg.ContextMin <= 0 {
		cfg.ContextMin = 1
	}
	if cfg.ContextMax <= 0 {
		cfg.ContextMax = 20
	}
	if cfg.DefaultContext <= 0 {
		cfg.DefaultContext = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.InteractionTTL <= 0 {
		cfg.InteractionTTL = 5 * time.Minute
	}
	w := &Watcher{
		Source:      src,
		Sink:        sink,
		Registry:    reg,
		Coordinator: coord,
		AI:          aic,
		Tasks:       tasks,
		Cfg:         cfg,
		watermarks:  make(map[string]time.Time),
		assignments: make(map[string]pendingAssignment),
		now:         time.Now,
	}
	start := w.now().Add(-startupLookback)
	w.watermarks[kindAI] = start
	w.watermarks[kindTask] = start
	return w
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	logger.Info("watcher_started", "ai_tag", w.Cfg.AITag, "task_tag", w.Cfg.TaskTag, "interval", w.Cfg.PollInterval.String())
	ticker := time.NewTicker(w.Cfg.PollInterval)
	defer ticker.Stop()
	for {
		w.Cycle(ctx)
		select {
		case <-ctx.Done():
			logger.Info("watcher_stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one poll pass. Cycles never overlap; a tick that fires while
// the previous pass is still working is skipped.
func (w *Watcher) Cycle(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		logger.Warn("cycle_skipped_busy")
		return
	}
	defer w.busy.Store(false)

	cycleStart := w.now()
	w.sweep(ctx)
	w.checkConfirmations(ctx)
	w.checkAssignments(ctx)
	aiOK := w.scanAI(ctx)
	taskOK := w.scanTasks(ctx)

	// Watermarks advance to the cycle start, and only for tag kinds whose
	// scan fully processed; a failed scan re-reads from the old mark.
	if aiOK {
		w.watermarks[kindAI] = cycleStart
	}
	if taskOK {
		w.watermarks[kindTask] = cycleStart
	}
	pollCycles.Inc()
}

// sweep expires overdue interactions and notifies confirmation originators
// that their request timed out.
func (w *Watcher) sweep(ctx context.Context) {
	expired, _ := w.Registry.SweepExpired()
	for _, it := range expired {
		if it.Kind != registry.KindConfirmation {
			continue
		}
		payload, ok := it.Payload.(ConfirmationPayload)
		if !ok {
			continue
		}
		_ = w.Sink.Send(ctx, it.Key.ChatID, "No response received. Your request timed out; send the tag again to retry.")
		w.record(models.ActionTimedOut, it.Key.ChatID, it.Key.Sender, truncate(payload.Origin.Content, 80), "")
	}
}

// checkConfirmations applies the earliest recognizable reply to each open
// confirmation. Unrecognized messages are skipped; the interaction stays
// open until a valid reply or expiry.
func (w *Watcher) checkConfirmations(ctx context.Context) {
	for _, it := range w.Registry.PendingByKind(registry.KindConfirmation) {
		payload, ok := it.Payload.(ConfirmationPayload)
		if !ok {
			continue
		}
		msgs, err := w.Source.ChatSince(ctx, it.Key.ChatID, it.CreatedAt)
		if err != nil {
			logger.Warn("confirmation_scan_failed", "id", it.ID, "error", err)
			continue
		}
		// newest-first window; walk oldest first
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			if m.Sender != it.Key.Sender {
				continue
			}
			rep := ParseReply(m.Content)
			if rep.Kind == ReplyUnrecognized {
				continue
			}
			if w.applyConfirmationReply(ctx, it, payload, rep) {
				break
			}
		}
	}
}

// applyConfirmationReply acts on one parsed reply and reports whether the
// reply was consumed. A numeric reply to a task confirmation means nothing
// and leaves the scan looking for a later yes/cancel.
func (w *Watcher) applyConfirmationReply(ctx context.Context, it registry.Interaction, payload ConfirmationPayload, rep Reply) bool {
	if payload.Task != nil {
		switch rep.Kind {
		case ReplyConfirm:
			if w.Registry.TryResolve(it.ID, true) == registry.Accepted {
				logger.Info("task_confirmed", "id", it.ID, "subject", payload.Task.Subject)
				w.createTask(ctx, payload.Origin, *payload.Task, payload.SimpleTask)
			}
			return true
		case ReplyCancel:
			if w.Registry.TryCancel(it.ID) == registry.Accepted {
				logger.Info("task_confirmation_cancelled", "id", it.ID)
				_ = w.Sink.Send(ctx, it.Key.ChatID, "Task creation cancelled.")
				w.record(models.ActionCancelled, it.Key.ChatID, it.Key.Sender, payload.Task.Subject, "")
			}
			return true
		}
		return false
	}
	switch rep.Kind {
	case ReplyNumeric, ReplyTaggedNumeric:
		n := Clamp(rep.N, payload.Min, payload.Max)
		if w.Registry.TryResolve(it.ID, n) == registry.Accepted {
			logger.Info("confirmation_resolved", "id", it.ID, "context", n)
			w.processAI(ctx, payload.Origin, n)
		}
	case ReplyConfirm:
		if w.Registry.TryResolve(it.ID, payload.Suggested) == registry.Accepted {
			logger.Info("confirmation_resolved", "id", it.ID, "context", payload.Suggested)
			w.processAI(ctx, payload.Origin, payload.Suggested)
		}
	case ReplyCancel:
		if w.Registry.TryCancel(it.ID) == registry.Accepted {
			logger.Info("confirmation_cancelled", "id", it.ID)
			_ = w.Sink.Send(ctx, it.Key.ChatID, "Request cancelled.")
			w.record(models.ActionCancelled, it.Key.ChatID, it.Key.Sender, truncate(payload.Origin.Content, 80), "")
		}
	}
	return true
}

// checkAssignments completes tasks that were parked on assignee
// disambiguation.
func (w *Watcher) checkAssignments(ctx context.Context) {
	for id, pa := range w.assignments {
		res, done, err := w.Coordinator.CheckReply(ctx, id)
		if err != nil {
			logger.Warn("assignment_check_failed", "id", id, "error", err)
			continue
		}
		if !done {
			continue
		}
		delete(w.assignments, id)
		switch res.Status {
		case registry.StatusResolved:
			pa.details.AssignedTo = contactOf(res.Candidate)
			w.finishTask(ctx, pa.origin, pa.details, pa.simple)
		case registry.StatusCancelled:
			_ = w.Sink.Send(ctx, pa.origin.ChatID, "Task creation cancelled.")
			w.record(models.ActionCancelled, pa.origin.ChatID, pa.origin.Sender, pa.details.Subject, "")
		default:
			logger.Warn("assignment_expired", "id", id, "subject", pa.details.Subject)
			pa.details.AssignedTo = ""
			w.finishTask(ctx, pa.origin, pa.details, pa.simple)
		}
	}
}

func (w *Watcher) scanAI(ctx context.Context) bool {
	msgs, err := w.Source.TaggedSince(ctx, w.Cfg.AITag, w.watermarks[kindAI])
	if err != nil {
		logger.Error("ai_scan_failed", "error", err)
		return false
	}
	for _, m := range msgs {
		taggedMessages.WithLabelValues(kindAI).Inc()
		logger.Info("ai_request", "chat", m.ChatID, "content", truncate(m.Content, 50))

		n, explicit := ExtractContextCount(w.Cfg.AITag, m.Content)
		if explicit {
			n = Clamp(n, w.Cfg.ContextMin, w.Cfg.ContextMax)
		} else {
			n = w.Cfg.DefaultContext
		}

		if explicit || !w.Cfg.ConfirmAI {
			w.processAI(ctx, m, n)
			continue
		}

		prompt := fmt.Sprintf(
			"I found your request with the %s tag.\n\n"+
				"How many previous messages should I include for context?\n\n"+
				"Reply with a number between %d-%d, or 'cancel' to abort.",
			w.Cfg.AITag, w.Cfg.ContextMin, w.Cfg.ContextMax)
		if err := w.Sink.Send(ctx, m.ChatID, prompt); err != nil {
			logger.Error("confirmation_prompt_failed", "chat", m.ChatID, "error", err)
			continue
		}
		key := registry.CorrelationKey{ChatID: m.ChatID, Sender: m.Sender}
		w.Registry.Create(registry.KindConfirmation, key, ConfirmationPayload{
			Origin:    m,
			Suggested: n,
			Min:       w.Cfg.ContextMin,
			Max:       w.Cfg.ContextMax,
		}, w.Cfg.InteractionTTL)
	}
	return true
}

// processAI loads the context window, asks the AI client, and sends the
// answer back to the originating chat.
func (w *Watcher) processAI(ctx context.Context, origin models.Message, contextCount int) {
	_ = w.Sink.Send(ctx, origin.ChatID,
		fmt.Sprintf("Processing request... (including %d previous messages for context)", contextCount))

	window, err := w.Source.Context(ctx, origin.ChatID, origin.TS, contextCount)
	if err != nil {
		logger.Warn("context_load_failed", "chat", origin.ChatID, "error", err)
	}
	conversation := ai.FormatConversation(w.Cfg.AITag, window, origin)
	answer, err := w.AI.Complete(ctx, ai.FormatSystemPrompt(origin.ChatName), ai.FormatPrompt(conversation))
	if err != nil {
		logger.Error("ai_completion_failed", "chat", origin.ChatID, "error", err)
		_ = w.Sink.Send(ctx, origin.ChatID, fmt.Sprintf("Error processing your request: %v", err))
		w.record(models.ActionFailed, origin.ChatID, origin.Sender, truncate(origin.Content, 80), err.Error())
		return
	}
	if err := w.Sink.Send(ctx, origin.ChatID, answer); err != nil {
		w.record(models.ActionFailed, origin.ChatID, origin.Sender, truncate(origin.Content, 80), err.Error())
		return
	}
	w.record(models.ActionAIReply, origin.ChatID, origin.Sender, truncate(origin.Content, 80), "")
}

func (w *Watcher) scanTasks(ctx context.Context) bool {
	msgs, err := w.Source.TaggedSince(ctx, w.Cfg.TaskTag, w.watermarks[kindTask])
	if err != nil {
		logger.Error("task_scan_failed", "error", err)
		return false
	}
	for _, m := range msgs {
		taggedMessages.WithLabelValues(kindTask).Inc()
		logger.Info("task_request", "chat", m.ChatID, "content", truncate(m.Content, 50))

		details := ParseTaskDetails(w.Cfg.TaskTag, m.Content, w.now())
		simple := false
		if !details.HasDetails {
			clean := StripTag(w.Cfg.TaskTag, m.Content)
			if clean == "" {
				_ = w.Sink.Send(ctx, m.ChatID, TaskHelpText(w.Cfg.TaskTag))
				continue
			}
			details = SimpleTask(clean)
			simple = true
		}
		if !w.Cfg.ConfirmTasks {
			w.createTask(ctx, m, details, simple)
			continue
		}

		prompt := fmt.Sprintf(
			"I found your request with the %s tag.\n\n"+
				"Create task \"%s\"?\n\n"+
				"Reply 'yes' to create it, or 'cancel' to abort.",
			w.Cfg.TaskTag, details.Subject)
		if err := w.Sink.Send(ctx, m.ChatID, prompt); err != nil {
			logger.Error("confirmation_prompt_failed", "chat", m.ChatID, "error", err)
			continue
		}
		key := registry.CorrelationKey{ChatID: m.ChatID, Sender: m.Sender}
		w.Registry.Create(registry.KindConfirmation, key, ConfirmationPayload{
			Origin:     m,
			Task:       &details,
			SimpleTask: simple,
		}, w.Cfg.InteractionTTL)
	}
	return true
}

// createTask routes the assignee through disambiguation when one is named;
// an ambiguous assignee parks the task until the admin replies.
func (w *Watcher) createTask(ctx context.Context, origin models.Message, details models.TaskDetails, simple bool) {
	if details.AssignedTo != "" && w.Coordinator != nil && w.Cfg.AdminChat != "" {
		key := registry.CorrelationKey{ChatID: w.Cfg.AdminChat, Sender: w.Cfg.AdminSender}
		res := w.Coordinator.Begin(ctx, details.AssignedTo, key, w.Cfg.AutoResolve, 0)
		switch res.Outcome {
		case resolve.BeginResolved, resolve.BeginDefaulted:
			details.AssignedTo = contactOf(res.Candidate)
		case resolve.BeginNoMatch:
			logger.Warn("assignee_no_match", "query", details.AssignedTo)
			details.AssignedTo = ""
		case resolve.BeginPrompted:
			if err := w.Sink.Send(ctx, w.Cfg.AdminChat, res.Prompt); err != nil {
				logger.Error("disambiguation_prompt_failed", "error", err)
				details.AssignedTo = ""
				break
			}
			w.assignments[res.ID] = pendingAssignment{origin: origin, details: details, simple: simple}
			return
		}
	}
	w.finishTask(ctx, origin, details, simple)
}

func (w *Watcher) finishTask(ctx context.Context, origin models.Message, details models.TaskDetails, simple bool) {
	result, err := w.Tasks.CreateTask(ctx, details)
	if err != nil {
		logger.Error("task_create_failed", "subject", details.Subject, "error", err)
		_ = w.Sink.Send(ctx, origin.ChatID, FormatTaskError(err))
		w.record(models.ActionFailed, origin.ChatID, origin.Sender, details.Subject, err.Error())
		return
	}
	notice := FormatTaskSuccess(details, result)
	if simple {
		notice = FormatSimpleTaskSuccess(details, result)
	}
	_ = w.Sink.Send(ctx, origin.ChatID, notice)
	w.record(models.ActionTaskCreated, origin.ChatID, origin.Sender, details.Subject, "")
}

// record appends to the action journal when one is open.
func (w *Watcher) record(kind, chatID, sender, summary, errText string) {
	if !store.Ready() {
		return
	}
	a := models.Action{
		ID:      uuid.NewString(),
		Kind:    kind,
		ChatID:  chatID,
		Sender:  sender,
		Summary: summary,
		Error:   errText,
	}
	if err := store.AppendAction(a); err != nil {
		logger.Warn("action_record_failed", "kind", kind, "error", err)
	}
}

// Watermark exposes the current mark for one tag kind.
func (w *Watcher) Watermark(tagKind string) time.Time {
	return w.watermarks[tagKind]
}

func contactOf(c *models.Candidate) string {
	if c == nil {
		return ""
	}
	if c.Identity.ContactAddress != "" {
		return c.Identity.ContactAddress
	}
	return c.Identity.ID
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
