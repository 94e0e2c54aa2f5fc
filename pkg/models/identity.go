package models

// Identity is one directory entry a free-text query may resolve to.
// Snapshots are refreshed wholesale; entries are immutable once loaded.
type Identity struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	ContactAddress string `json:"contact_address"`
	Handle         string `json:"handle,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// Candidate pairs an identity with its fuzzy match score (0..100).
// Ordering is significant: descending score, stable on directory order.
type Candidate struct {
	Identity Identity `json:"identity"`
	Score    int      `json:"score"`
}
