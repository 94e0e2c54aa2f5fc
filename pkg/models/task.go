package models

// TaskDetails holds fields extracted from a tagged task message. HasDetails
// reports whether the message carried the structured template (at minimum a
// Subject line) rather than plain text.
type TaskDetails struct {
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"` // YYYY-MM-DD
	AssignedTo  string `json:"assigned_to,omitempty"`
	HasDetails  bool   `json:"has_details"`
}

// TaskResult is the outcome of a record-creation call.
type TaskResult struct {
	TaskID  string `json:"task_id"`
	TaskURL string `json:"task_url,omitempty"`
}
