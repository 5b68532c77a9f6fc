package contracts

import "time"

// EventStatus classifies a stream event.
type EventStatus string

const (
	EventConnected  EventStatus = "connected"
	EventPing       EventStatus = "ping"
	EventAgentStart EventStatus = "agent_start"
	EventProgress   EventStatus = "progress"
	EventAgentDone  EventStatus = "agent_done"
	EventTransition EventStatus = "transition"
	EventComplete   EventStatus = "complete"
	EventError      EventStatus = "error"
)

// Event is the record delivered to stream subscribers. An event with
// status complete or error and Final set closes the subscriber queue
// after flushing.
type Event struct {
	ProjectID string         `json:"project_id"`
	AgentID   AgentID        `json:"agent_id,omitempty"`
	Status    EventStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Progress  int            `json:"progress"` // 0..100
	Final     bool           `json:"final,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
