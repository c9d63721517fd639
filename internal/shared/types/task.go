package types

import "time"

// TaskKind identifies which channel a task targets
type TaskKind string

const (
	KindMain   TaskKind = "main"
	KindWindow TaskKind = "window"
)

// Task is the unit of work submitted to the scheduler.
// Immutable once enqueued.
type Task struct {
	Kind      TaskKind `json:"kind"`
	WindowID  string   `json:"window_id,omitempty"` // set iff Kind == KindWindow
	MessageID string   `json:"message_id"`
	Content   string   `json:"content"`
	Images    []string `json:"images,omitempty"`
}

// MainTask builds a main-channel task
func MainTask(messageID, content string) Task {
	return Task{Kind: KindMain, MessageID: messageID, Content: content}
}

// WindowTask builds a window-channel task
func WindowTask(windowID, messageID, content string) Task {
	return Task{Kind: KindWindow, WindowID: windowID, MessageID: messageID, Content: content}
}

// QueueEntry pairs a task with its enqueue time
type QueueEntry struct {
	Task       Task      `json:"task"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
