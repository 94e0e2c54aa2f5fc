package models

import "time"

// Message is one entry of the append-only chat log the watcher scans.
type Message struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	ChatName string    `json:"chat_name,omitempty"`
	Sender   string    `json:"sender"`
	TS       time.Time `json:"ts"`
	Content  string    `json:"content"`
}
