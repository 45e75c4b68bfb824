package wire

import (
	"encoding/json"
	"fmt"
)

// Action tags a server-pushed discussion event.
type Action string

const (
	// ActionCreate announces a new message.
	ActionCreate Action = "create"
	// ActionUpdate replaces the body of an existing message.
	ActionUpdate Action = "update"
	// ActionDelete removes a message.
	ActionDelete Action = "delete"
	// ActionStatus carries an advisory discussion status string.
	ActionStatus Action = "status"
)

// Event is a validated, typed discussion event.
//
// Raw frames are decoded and validated at the transport boundary so the
// synchronizer never sees an untyped payload.
type Event struct {
	// Action is the event tag.
	Action Action
	// DiscussionID identifies the discussion the event belongs to. May be
	// empty on status frames, which then apply to the active discussion.
	DiscussionID string
	// Message is the payload for create and update events.
	Message *Message
	// MessageID is the payload for delete events.
	MessageID string
	// Status is the payload for status events.
	Status string
}

// eventFrame is the raw JSON shape pushed by the server.
type eventFrame struct {
	Action       string   `json:"action"`
	DiscussionID string   `json:"discussionId,omitempty"`
	Message      *Message `json:"message,omitempty"`
	MessageID    string   `json:"messageId,omitempty"`
	Status       string   `json:"status,omitempty"`
}

// ParseEventFrame decodes a raw transport payload into a typed Event.
//
// It accepts whatever the socket layer hands over (typically a
// map[string]any) and validates the per-action payload shape.
func ParseEventFrame(v any) (*Event, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	var frame eventFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	ev := &Event{
		Action:       Action(frame.Action),
		DiscussionID: frame.DiscussionID,
		Message:      frame.Message,
		MessageID:    frame.MessageID,
		Status:       frame.Status,
	}

	switch ev.Action {
	case ActionCreate, ActionUpdate:
		if ev.Message == nil {
			return nil, fmt.Errorf("%s event missing message", ev.Action)
		}
		if ev.Action == ActionCreate && !ev.Message.HasContent() {
			return nil, fmt.Errorf("create event carries empty message")
		}
		if ev.Action == ActionUpdate && ev.Message.ID == "" {
			return nil, fmt.Errorf("update event missing message.id")
		}
	case ActionDelete:
		if ev.MessageID == "" {
			return nil, fmt.Errorf("delete event missing messageId")
		}
	case ActionStatus:
		if ev.Status == "" {
			return nil, fmt.Errorf("status event missing status")
		}
	default:
		return nil, fmt.Errorf("unknown action %q", frame.Action)
	}
	return ev, nil
}
