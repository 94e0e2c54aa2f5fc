package models

// Action kinds recorded in the journal.
const (
	ActionAIReply     = "ai_reply"
	ActionTaskCreated = "task_created"
	ActionCancelled   = "cancelled"
	ActionTimedOut    = "timed_out"
	ActionFailed      = "failed"
)

// Action is one completed (or failed) downstream action, journaled for the
// daily digest and the /v1/actions listing.
type Action struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	ChatID  string `json:"chat_id,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
	// TS is the completion timestamp (ns).
	TS int64 `json:"ts"`
}
