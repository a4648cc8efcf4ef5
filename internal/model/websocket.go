package model

import "time"

// Generation event types
const (
	EventSubmitted  = "submitted"
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
)

// WebSocket control message types
const (
	WSMessageTypePing = "ping"
	WSMessageTypePong = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// GenerationEvent is pushed to subscribers of a post and to the event bus
type GenerationEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	PostID    string    `json:"postId"`
	TaskID    string    `json:"taskId,omitempty"`
	MediaID   string    `json:"mediaId,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
