package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatmon/pkg/directory"
	"chatmon/pkg/logger"
	"chatmon/pkg/models"
	"chatmon/pkg/registry"
	"chatmon/pkg/source"
)

// Sink delivers outbound prompt text. Implemented by the bridge client.
type Sink interface {
	Send(ctx context.Context, recipient, text string) error
}

// DisambiguationPayload is stored on a pending disambiguation interaction.
type DisambiguationPayload struct {
	Query      string
	Candidates []models.Candidate
}

// BeginOutcome classifies how a resolution attempt concluded (or didn't).
type BeginOutcome int

const (
	// BeginResolved means exactly one confident candidate; no interaction.
	BeginResolved BeginOutcome = iota
	// BeginDefaulted means no confident candidate and the configured
	// default identity was used; no interaction.
	BeginDefaulted
	// BeginNoMatch means no confident candidate and no default.
	BeginNoMatch
	// BeginPrompted means a pending disambiguation interaction was opened.
	BeginPrompted
)

// BeginResult carries whichever of the outcome's fields apply. Prompt is
// returned for the caller to dispatch.
type BeginResult struct {
	Outcome   BeginOutcome
	ID        string
	Candidate *models.Candidate
	Prompt    string
	Presented []models.Candidate
}

// Resolution is the terminal state of a disambiguation interaction.
type Resolution struct {
	Status    registry.Status
	Candidate *models.Candidate
	Selection int
}

// Coordinator drives the disambiguation flow: rank candidates, open a
// pending interaction when a human has to pick, and correlate the reply.
type Coordinator struct {
	Registry  *registry.Registry
	Directory *directory.Directory
	Resolver  Resolver
	Source    source.MessageSource
	Sink      Sink

	// DefaultAssignee, when set, absorbs queries with an empty confident
	// set instead of failing them.
	DefaultAssignee string
	// Timeout is the pending interaction's TTL.
	Timeout time.Duration
}

// DefaultTimeout applies when the config leaves the timeout zero.
const DefaultTimeout = 5 * time.Minute

func (c *Coordinator) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Begin resolves query against the directory snapshot. autoResolve=false
// forces a prompt even when a single confident candidate exists; ttl<=0
// uses the coordinator's configured timeout.
func (c *Coordinator) Begin(ctx context.Context, query string, key registry.CorrelationKey, autoResolve bool, ttl time.Duration) BeginResult {
	if ttl <= 0 {
		ttl = c.timeout()
	}
	ranked := c.Resolver.Resolve(query, c.Directory.Snapshot())

	if autoResolve && len(ranked.Confident) == 1 {
		cand := ranked.Confident[0]
		logger.Info("resolved_confidently", "query", query, "identity", cand.Identity.ID, "score", cand.Score)
		return BeginResult{Outcome: BeginResolved, Candidate: &cand}
	}

	if len(ranked.Confident) == 0 {
		if c.DefaultAssignee != "" {
			if id, ok := c.findDefault(); ok {
				logger.Info("resolution_defaulted", "query", query, "identity", id.ID)
				cand := models.Candidate{Identity: id}
				return BeginResult{Outcome: BeginDefaulted, Candidate: &cand}
			}
			logger.Warn("default_assignee_missing", "assignee", c.DefaultAssignee)
		}
		logger.Info("resolution_no_match", "query", query)
		return BeginResult{Outcome: BeginNoMatch}
	}

	presented := ranked.Candidates
	payload := DisambiguationPayload{Query: query, Candidates: presented}
	it := c.Registry.Create(registry.KindDisambiguation, key, payload, ttl)
	return BeginResult{
		Outcome:   BeginPrompted,
		ID:        it.ID,
		Prompt:    FormatPrompt(query, presented),
		Presented: presented,
	}
}

// findDefault matches DefaultAssignee against id, contact address or
// handle in the current snapshot.
func (c *Coordinator) findDefault() (models.Identity, bool) {
	want := normalize(c.DefaultAssignee)
	for _, id := range c.Directory.Snapshot() {
		if normalize(id.ID) == want || normalize(id.ContactAddress) == want || normalize(id.Handle) == want {
			return id, true
		}
	}
	return models.Identity{}, false
}

// FormatPrompt renders the numbered candidate list sent to the chat.
func FormatPrompt(query string, candidates []models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found multiple users matching '%s':\n\n", query)
	for i, c := range candidates {
		addr := c.Identity.ContactAddress
		if addr == "" {
			addr = "no-contact"
		}
		fmt.Fprintf(&b, "%d. %s (%s) - %d%% match\n", i+1, c.Identity.DisplayName, addr, c.Score)
	}
	fmt.Fprintf(&b, "\nReply with the number (1-%d) to select a user, or 'cancel' to abort.", len(candidates))
	return b.String()
}

// CheckReply fetches messages newer than the interaction's creation from
// its correlation key and applies the earliest one. Unrecognized text is
// discarded and the interaction stays pending; an out-of-range number
// additionally triggers a corrective prompt.
func (c *Coordinator) CheckReply(ctx context.Context, id string) (Resolution, bool, error) {
	it, ok := c.Registry.Get(id)
	if !ok {
		return Resolution{}, false, fmt.Errorf("interaction %s not found", id)
	}
	if it.Status != registry.StatusPending {
		return terminalResolution(it), true, nil
	}

	msgs, err := c.Source.ChatSince(ctx, it.Key.ChatID, it.CreatedAt)
	if err != nil {
		return Resolution{}, false, err
	}
	reply, ok := earliestFrom(msgs, it.Key.Sender)
	if !ok {
		return Resolution{}, false, nil
	}

	payload, _ := it.Payload.(DisambiguationPayload)
	n := len(payload.Candidates)
	text := strings.ToLower(strings.TrimSpace(reply.Content))

	switch {
	case isCancelToken(text):
		if out := c.Registry.TryCancel(id); out == registry.Accepted {
			logger.Info("disambiguation_cancelled", "id", id)
		}
	case isAllDigits(text):
		sel, err := strconv.Atoi(text)
		if err == nil && sel >= 1 && sel <= n {
			cand := payload.Candidates[sel-1]
			if out := c.Registry.TryResolve(id, Resolution{Status: registry.StatusResolved, Candidate: &cand, Selection: sel}); out == registry.Accepted {
				logger.Info("disambiguation_resolved", "id", id, "selection", sel, "identity", cand.Identity.ID)
			}
		} else if c.Sink != nil {
			_ = c.Sink.Send(ctx, it.Key.ChatID,
				fmt.Sprintf("Invalid selection '%s'. Please choose 1-%d or 'cancel'.", text, n))
			return Resolution{}, false, nil
		}
	default:
		// not addressed to us; leave the interaction open
		return Resolution{}, false, nil
	}

	it, _ = c.Registry.Get(id)
	if it.Status == registry.StatusPending {
		return Resolution{}, false, nil
	}
	return terminalResolution(it), true, nil
}

// WaitStatus is the outcome of WaitForReply.
type WaitStatus int

const (
	WaitResolved WaitStatus = iota
	WaitCancelled
	WaitExpired
	WaitPending
)

// WaitForReply polls CheckReply until the interaction turns terminal,
// maxWait elapses, or ctx is cancelled. Cancellation returns WaitPending
// with no side effects; the interaction stays open for the watcher.
func (c *Coordinator) WaitForReply(ctx context.Context, id string, pollInterval, maxWait time.Duration) (Resolution, WaitStatus) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		res, done, err := c.CheckReply(ctx, id)
		if err != nil {
			logger.Warn("check_reply_failed", "id", id, "error", err)
		}
		if done {
			switch res.Status {
			case registry.StatusResolved:
				return res, WaitResolved
			case registry.StatusCancelled:
				return res, WaitCancelled
			default:
				return res, WaitExpired
			}
		}
		if time.Now().After(deadline) {
			return Resolution{}, WaitPending
		}
		select {
		case <-ctx.Done():
			return Resolution{}, WaitPending
		case <-ticker.C:
		}
	}
}

func terminalResolution(it registry.Interaction) Resolution {
	if res, ok := it.Resolution.(Resolution); ok {
		res.Status = it.Status
		return res
	}
	return Resolution{Status: it.Status}
}

// earliestFrom picks the oldest message from sender out of a newest-first
// window.
func earliestFrom(msgs []models.Message, sender string) (models.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == sender {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}

func isCancelToken(s string) bool {
	switch s {
	case "cancel", "stop", "abort":
		return true
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
