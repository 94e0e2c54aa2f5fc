package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatmon/pkg/logger"
)

// Kind classifies what a pending interaction is waiting for.
type Kind string

const (
	KindConfirmation   Kind = "confirmation"
	KindDisambiguation Kind = "disambiguation"
)

// Status is the lifecycle state of an interaction. Transitions only leave
// pending, exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Outcome reports the result of a transition attempt.
type Outcome int

const (
	Accepted Outcome = iota
	AlreadyTerminal
	NotFound
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyTerminal:
		return "already_terminal"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// CorrelationKey matches a follow-up reply to the interaction expecting it.
type CorrelationKey struct {
	ChatID string
	Sender string
}

// Interaction is a snapshot of one pending interaction. Callers only ever
// hold snapshots; the registry owns the live entries.
type Interaction struct {
	ID         string
	Kind       Kind
	Key        CorrelationKey
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Payload    any
	Status     Status
	Resolution any
}

type entry struct {
	Interaction
	// observed is set once a caller has read the terminal state; the next
	// sweep may then evict the entry.
	observed   bool
	terminalAt time.Time
}

// Registry owns the map of pending interactions. All mutating operations
// are serialized by a single mutex; no collaborator I/O happens under it.
type Registry struct {
	mu    sync.Mutex
	items map[string]*entry
	// grace bounds how long an unobserved terminal entry survives sweeps.
	grace time.Duration
	now   func() time.Time
}

// DefaultGrace is how long terminal entries are retained for late readers
// before unconditional eviction.
const DefaultGrace = 10 * time.Minute

// New returns an empty registry. A non-positive grace uses DefaultGrace.
func New(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Registry{
		items: make(map[string]*entry),
		grace: grace,
		now:   time.Now,
	}
}

// Create opens a new pending interaction and returns its snapshot. Opening
// a second interaction for a key+kind that already has one pending is a
// caller error which is logged, not rejected.
func (r *Registry) Create(kind Kind, key CorrelationKey, payload any, ttl time.Duration) Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, e := range r.items {
		if e.Status == StatusPending && e.Kind == kind && e.Key == key {
			logger.Warn("duplicate_pending_interaction", "kind", string(kind), "chat", key.ChatID, "sender", key.Sender, "existing", e.ID)
			break
		}
	}
	e := &entry{Interaction: Interaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Payload:   payload,
		Status:    StatusPending,
	}}
	r.items[e.ID] = e
	interactionsCreated.WithLabelValues(string(kind)).Inc()
	interactionsPending.Inc()
	logger.Info("interaction_created", "id", e.ID, "kind", string(kind), "chat", key.ChatID, "ttl", ttl.String())
	return e.Interaction
}

// Get returns a snapshot of the interaction. Reading a terminal state
// marks the entry observed, releasing it to the next sweep.
func (r *Registry) Get(id string) (Interaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return Interaction{}, false
	}
	if e.Status != StatusPending {
		e.observed = true
	}
	return e.Interaction, true
}

// TryResolve attempts the pending -> resolved transition. Exactly one
// caller can win; later attempts observe AlreadyTerminal. A pending entry
// past its deadline is lazily marked expired here.
func (r *Registry) TryResolve(id string, resolution any) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return NotFound
	}
	if e.Status != StatusPending {
		return AlreadyTerminal
	}
	now := r.now()
	if !now.Before(e.ExpiresAt) {
		r.markTerminalLocked(e, StatusExpired, now)
		return Expired
	}
	e.Resolution = resolution
	r.markTerminalLocked(e, StatusResolved, now)
	return Accepted
}

// TryCancel attempts the pending -> cancelled transition with the same
// compare-and-set discipline as TryResolve.
func (r *Registry) TryCancel(id string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return NotFound
	}
	if e.Status != StatusPending {
		return AlreadyTerminal
	}
	now := r.now()
	if !now.Before(e.ExpiresAt) {
		r.markTerminalLocked(e, StatusExpired, now)
		return AlreadyTerminal
	}
	r.markTerminalLocked(e, StatusCancelled, now)
	return Accepted
}

// Find returns the most recently created pending interaction for the
// key+kind, if any.
func (r *Registry) Find(key CorrelationKey, kind Kind) (Interaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *entry
	matches := 0
	for _, e := range r.items {
		if e.Status != StatusPending || e.Kind != kind || e.Key != key {
			continue
		}
		matches++
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if matches > 1 {
		logger.Warn("multiple_pending_interactions", "kind", string(kind), "chat", key.ChatID, "count", matches)
	}
	if best == nil {
		return Interaction{}, false
	}
	return best.Interaction, true
}

// PendingByKind snapshots all pending interactions of one kind, ordered
// oldest first.
func (r *Registry) PendingByKind(kind Kind) []Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Interaction
	for _, e := range r.items {
		if e.Status == StatusPending && e.Kind == kind {
			out = append(out, e.Interaction)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SweepExpired lazily expires pending entries past their deadline and
// evicts terminal entries that were observed, or whose grace period has
// elapsed. It returns snapshots of the newly expired interactions so the
// caller can emit timed-out notices, plus the eviction count.
func (r *Registry) SweepExpired() ([]Interaction, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var expired []Interaction
	evicted := 0
	for id, e := range r.items {
		if e.Status == StatusPending {
			if !now.Before(e.ExpiresAt) {
				r.markTerminalLocked(e, StatusExpired, now)
				expired = append(expired, e.Interaction)
			}
			continue
		}
		if e.observed || now.Sub(e.terminalAt) > r.grace {
			delete(r.items, id)
			evicted++
		}
	}
	if len(expired) > 0 || evicted > 0 {
		logger.Debug("sweep_done", "expired", len(expired), "evicted", evicted)
	}
	return expired, evicted
}

// Len reports how many entries (pending and unreaped terminal) exist.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) markTerminalLocked(e *entry, s Status, now time.Time) {
	e.Status = s
	e.terminalAt = now
	interactionsPending.Dec()
	interactionsTerminal.WithLabelValues(string(e.Kind), string(s)).Inc()
	logger.Info("interaction_terminal", "id", e.ID, "kind", string(e.Kind), "status", string(s))
}
