package watch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"chatmon/pkg/directory"
	"chatmon/pkg/models"
	"chatmon/pkg/registry"
	"chatmon/pkg/resolve"
)

// fakeLog is an in-memory message log.
type fakeLog struct {
	msgs       []models.Message
	contextN   []int
	failTagged bool
}

func (f *fakeLog) TaggedSince(ctx context.Context, tag string, since time.Time) ([]models.Message, error) {
	if f.failTagged {
		return nil, errors.New("log unavailable")
	}
	var out []models.Message
	for _, m := range f.msgs {
		if strings.Contains(strings.ToLower(m.Content), strings.ToLower(tag)) && m.TS.After(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func (f *fakeLog) ChatSince(ctx context.Context, chatID string, since time.Time) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.msgs {
		if m.ChatID == chatID && m.TS.After(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	return out, nil
}

func (f *fakeLog) Context(ctx context.Context, chatID string, before time.Time, n int) ([]models.Message, error) {
	f.contextN = append(f.contextN, n)
	return nil, nil
}

type sentMsg struct {
	recipient string
	text      string
}

type capSink struct {
	sent []sentMsg
}

func (s *capSink) Send(ctx context.Context, recipient, text string) error {
	s.sent = append(s.sent, sentMsg{recipient, text})
	return nil
}

func (s *capSink) texts() []string {
	var out []string
	for _, m := range s.sent {
		out = append(out, m.text)
	}
	return out
}

type fakeAI struct {
	answer string
	err    error
	calls  int
}

func (f *fakeAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	return f.answer, f.err
}

type fakeTasks struct {
	created []models.TaskDetails
	err     error
}

func (f *fakeTasks) CreateTask(ctx context.Context, d models.TaskDetails) (models.TaskResult, error) {
	if f.err != nil {
		return models.TaskResult{}, f.err
	}
	f.created = append(f.created, d)
	return models.TaskResult{TaskID: "T-1", TaskURL: "http://erp/app/task/T-1"}, nil
}

type staticIdentities struct {
	ids []models.Identity
}

func (s *staticIdentities) ListEnabled(ctx context.Context) ([]models.Identity, error) {
	return s.ids, nil
}

func watcherIdentities() []models.Identity {
	return []models.Identity{
		{ID: "john.doe", DisplayName: "John Doe", ContactAddress: "john.doe@x.com", Handle: "john", Enabled: true},
		{ID: "johnny.smith", DisplayName: "Johnny Smith", ContactAddress: "johnny.smith@x.com", Handle: "johnny", Enabled: true},
	}
}

type harness struct {
	w     *Watcher
	log   *fakeLog
	sink  *capSink
	ai    *fakeAI
	tasks *fakeTasks
	reg   *registry.Registry
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := &fakeLog{}
	sink := &capSink{}
	aic := &fakeAI{answer: "the answer"}
	tasks := &fakeTasks{}
	reg := registry.New(0)

	dir := directory.New(&staticIdentities{ids: watcherIdentities()})
	if err := dir.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	coord := &resolve.Coordinator{
		Registry:  reg,
		Directory: dir,
		Resolver:  resolve.Resolver{Threshold: 80},
		Source:    log,
		Sink:      sink,
		Timeout:   time.Minute,
	}
	if cfg.AITag == "" {
		cfg.AITag = "#claude"
	}
	if cfg.TaskTag == "" {
		cfg.TaskTag = "#task"
	}
	w := New(log, sink, reg, coord, aic, tasks, cfg)
	return &harness{w: w, log: log, sink: sink, ai: aic, tasks: tasks, reg: reg}
}

func msgAt(chat, sender, content string, at time.Time) models.Message {
	return models.Message{ID: "m", ChatID: chat, ChatName: chat, Sender: sender, Content: content, TS: at}
}

func TestCycle_ImmediateAIFlow(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: false})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude summarize this", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	texts := h.sink.texts()
	if len(texts) != 2 {
		t.Fatalf("expected processing notice and answer, got %v", texts)
	}
	if !strings.Contains(texts[0], "including 5 previous messages") {
		t.Fatalf("default context count not used: %q", texts[0])
	}
	if texts[1] != "the answer" {
		t.Fatalf("answer not relayed: %q", texts[1])
	}
	if len(h.log.contextN) != 1 || h.log.contextN[0] != 5 {
		t.Fatalf("context window request = %v, want [5]", h.log.contextN)
	}
}

func TestCycle_ExplicitCountSkipsConfirmation(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: true})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude 7 summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if h.reg.Len() != 0 {
		t.Fatalf("explicit count must not open a confirmation")
	}
	if len(h.log.contextN) != 1 || h.log.contextN[0] != 7 {
		t.Fatalf("context window request = %v, want [7]", h.log.contextN)
	}
}

func TestCycle_ExplicitCountClamped(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: false, ContextMin: 1, ContextMax: 20})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude 500 summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())
	if len(h.log.contextN) != 1 || h.log.contextN[0] != 20 {
		t.Fatalf("context window request = %v, want [20]", h.log.contextN)
	}
}

func TestCycle_ConfirmationRoundTrip(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: true})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Reply with a number between 1-20") {
		t.Fatalf("expected a confirmation prompt, got %v", texts)
	}
	pending := h.reg.PendingByKind(registry.KindConfirmation)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending confirmation, got %d", len(pending))
	}

	// the originator replies with a count
	h.log.msgs = append(h.log.msgs,
		msgAt("chat-1", "alice", "7", time.Now().Add(time.Second)))
	h.sink.sent = nil
	h.w.Cycle(context.Background())

	if len(h.log.contextN) != 1 || h.log.contextN[0] != 7 {
		t.Fatalf("context window request = %v, want [7]", h.log.contextN)
	}
	texts = h.sink.texts()
	if len(texts) != 2 || texts[1] != "the answer" {
		t.Fatalf("expected processing notice and answer, got %v", texts)
	}
	it, _ := h.reg.Get(pending[0].ID)
	if it.Status != registry.StatusResolved {
		t.Fatalf("confirmation should be resolved, got %s", it.Status)
	}
}

func TestCycle_ConfirmationCancel(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: true})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())
	pending := h.reg.PendingByKind(registry.KindConfirmation)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending confirmation")
	}

	h.log.msgs = append(h.log.msgs,
		msgAt("chat-1", "alice", "cancel", time.Now().Add(time.Second)))
	h.sink.sent = nil
	h.w.Cycle(context.Background())

	texts := h.sink.texts()
	if len(texts) != 1 || texts[0] != "Request cancelled." {
		t.Fatalf("expected cancellation notice, got %v", texts)
	}
	if h.ai.calls != 0 {
		t.Fatalf("cancelled request must not reach the AI client")
	}
	it, _ := h.reg.Get(pending[0].ID)
	if it.Status != registry.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", it.Status)
	}
}

func TestCycle_WatermarkPreventsReprocessing(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: false})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())
	if h.ai.calls != 1 {
		t.Fatalf("expected one completion, got %d", h.ai.calls)
	}

	h.w.Cycle(context.Background())
	if h.ai.calls != 1 {
		t.Fatalf("message processed twice: %d completions", h.ai.calls)
	}
}

func TestCycle_FailedScanKeepsWatermark(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: false})
	before := h.w.Watermark(kindAI)
	h.log.failTagged = true
	h.w.Cycle(context.Background())
	if !h.w.Watermark(kindAI).Equal(before) {
		t.Fatalf("failed scan must not advance the watermark")
	}

	// once the log recovers the message is still picked up
	h.log.failTagged = false
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())
	if h.ai.calls != 1 {
		t.Fatalf("expected the message to be processed after recovery")
	}
	if h.w.Watermark(kindAI).Equal(before) {
		t.Fatalf("successful scan must advance the watermark")
	}
}

func TestCycle_TemplatedTask(t *testing.T) {
	h := newHarness(t, Config{})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task\nSubject: Fix printer\nPriority: high", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 1 {
		t.Fatalf("expected 1 task, got %d", len(h.tasks.created))
	}
	d := h.tasks.created[0]
	if d.Subject != "Fix printer" || d.Priority != "High" {
		t.Fatalf("got %+v", d)
	}
	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Task created successfully!") {
		t.Fatalf("expected success notice, got %v", texts)
	}
	if !strings.Contains(texts[0], "Priority: High") {
		t.Fatalf("full notice expected for templated task:\n%s", texts[0])
	}
}

func TestCycle_SimpleTask(t *testing.T) {
	h := newHarness(t, Config{})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task buy more coffee", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 1 || h.tasks.created[0].Subject != "buy more coffee" {
		t.Fatalf("got %+v", h.tasks.created)
	}
	texts := h.sink.texts()
	if len(texts) != 1 || strings.Contains(texts[0], "Priority:") {
		t.Fatalf("short notice expected for simple task, got %v", texts)
	}
}

func TestCycle_EmptyTaskSendsHelp(t *testing.T) {
	h := newHarness(t, Config{})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 0 {
		t.Fatalf("no task should be created for an empty tag")
	}
	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "To create a task") {
		t.Fatalf("expected help text, got %v", texts)
	}
}

func TestCycle_TaskCreateFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.tasks.err = errors.New("erp down")
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task buy more coffee", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Failed to create task") {
		t.Fatalf("expected failure notice, got %v", texts)
	}
}

func TestCycle_TaskConfirmationRoundTrip(t *testing.T) {
	h := newHarness(t, Config{ConfirmTasks: true})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task buy more coffee", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 0 {
		t.Fatalf("task must wait for confirmation, got %+v", h.tasks.created)
	}
	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], `Create task "buy more coffee"?`) {
		t.Fatalf("expected a confirmation prompt, got %v", texts)
	}
	if len(h.reg.PendingByKind(registry.KindConfirmation)) != 1 {
		t.Fatalf("expected a pending confirmation")
	}

	// a stray number means nothing for a task confirmation; the later
	// 'yes' still lands
	h.log.msgs = append(h.log.msgs,
		msgAt("chat-1", "alice", "5", time.Now().Add(time.Second)),
		msgAt("chat-1", "alice", "yes", time.Now().Add(2*time.Second)))
	h.sink.sent = nil
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 1 || h.tasks.created[0].Subject != "buy more coffee" {
		t.Fatalf("expected the confirmed task to be created, got %+v", h.tasks.created)
	}
	texts = h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Task created successfully!") {
		t.Fatalf("expected success notice, got %v", texts)
	}
	if len(h.reg.PendingByKind(registry.KindConfirmation)) != 0 {
		t.Fatalf("confirmation must be terminal after the reply")
	}
}

func TestCycle_TaskConfirmationCancel(t *testing.T) {
	h := newHarness(t, Config{ConfirmTasks: true})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task buy more coffee", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	h.log.msgs = append(h.log.msgs,
		msgAt("chat-1", "alice", "cancel", time.Now().Add(time.Second)))
	h.sink.sent = nil
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 0 {
		t.Fatalf("cancelled task must not be created")
	}
	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Task creation cancelled.") {
		t.Fatalf("expected a cancellation notice, got %v", texts)
	}
}

func TestCycle_AmbiguousAssigneeRoundTrip(t *testing.T) {
	h := newHarness(t, Config{AutoResolve: true, AdminChat: "admin-chat", AdminSender: "admin"})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task\nSubject: Fix printer\nAssigned To: john", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 0 {
		t.Fatalf("task must wait for disambiguation")
	}
	if len(h.sink.sent) != 1 || h.sink.sent[0].recipient != "admin-chat" {
		t.Fatalf("expected a prompt to the admin chat, got %v", h.sink.sent)
	}
	if !strings.Contains(h.sink.sent[0].text, "Found multiple users matching 'john'") {
		t.Fatalf("prompt text:\n%s", h.sink.sent[0].text)
	}

	// the admin picks the first candidate
	h.log.msgs = append(h.log.msgs,
		msgAt("admin-chat", "admin", "1", time.Now().Add(time.Second)))
	h.sink.sent = nil
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 1 {
		t.Fatalf("expected the parked task to be created")
	}
	if got := h.tasks.created[0].AssignedTo; got != "john.doe@x.com" {
		t.Fatalf("assigned to %q, want john.doe@x.com", got)
	}
	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Task created successfully!") {
		t.Fatalf("expected success notice to the origin chat, got %v", texts)
	}
}

func TestCycle_UnambiguousAssigneeResolvesInline(t *testing.T) {
	h := newHarness(t, Config{AutoResolve: true, AdminChat: "admin-chat", AdminSender: "admin"})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task\nSubject: Fix printer\nAssigned To: johnny smith", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 1 {
		t.Fatalf("expected an immediate task, got %d", len(h.tasks.created))
	}
	if got := h.tasks.created[0].AssignedTo; got != "johnny.smith@x.com" {
		t.Fatalf("assigned to %q", got)
	}
}

func TestCycle_AssigneePromptsWhenAutoResolveOff(t *testing.T) {
	h := newHarness(t, Config{AutoResolve: false, AdminChat: "admin-chat", AdminSender: "admin"})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#task\nSubject: Fix printer\nAssigned To: johnny smith", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())

	if len(h.tasks.created) != 0 {
		t.Fatalf("a single confident match must still prompt when auto-resolve is off")
	}
	if len(h.sink.sent) != 1 || h.sink.sent[0].recipient != "admin-chat" {
		t.Fatalf("expected a prompt to the admin chat, got %v", h.sink.sent)
	}
	if len(h.reg.PendingByKind(registry.KindDisambiguation)) != 1 {
		t.Fatalf("expected a pending disambiguation")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("short strings pass through, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Fatalf("got %q", got)
	}
	// cutting inside a multibyte rune must back up to the boundary
	s := strings.Repeat("ü", 10)
	got := truncate(s, 15)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("ü", 7)+"..." {
		t.Fatalf("got %q", got)
	}
}

func TestSweep_TimeoutNotice(t *testing.T) {
	h := newHarness(t, Config{ConfirmAI: true, InteractionTTL: time.Millisecond})
	h.log.msgs = []models.Message{
		msgAt("chat-1", "alice", "#claude summarize", time.Now().Add(-30*time.Second)),
	}
	h.w.Cycle(context.Background())
	if len(h.reg.PendingByKind(registry.KindConfirmation)) != 1 {
		t.Fatalf("expected a pending confirmation")
	}

	time.Sleep(5 * time.Millisecond)
	h.sink.sent = nil
	h.w.Cycle(context.Background())

	texts := h.sink.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "timed out") {
		t.Fatalf("expected a timeout notice, got %v", texts)
	}
	if h.ai.calls != 0 {
		t.Fatalf("timed-out request must not be processed")
	}
}
