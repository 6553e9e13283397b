package models

// EventType discriminates stream event frames. The JSON wire shape is
// {"type": "...", ...} and is identical over SSE and WebSocket.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStatus    EventType = "status"
	EventItem      EventType = "item"
	EventPending   EventType = "pending"
	EventDrop      EventType = "drop"
	EventConfirm   EventType = "confirm"
	EventRejected  EventType = "rejected"
	EventFinished  EventType = "finished"
	EventError     EventType = "error"
)

// StreamEvent is one frame delivered to subscribers. Only the fields relevant
// to the Type are populated; the zero values are omitted on the wire.
type StreamEvent struct {
	Type      EventType `json:"type"`
	WebsetID  string    `json:"websetId,omitempty"`
	Status    string    `json:"status,omitempty"`
	ItemCount int       `json:"itemCount,omitempty"`
	Item      Item      `json:"item,omitempty"`
	Data      Item      `json:"data,omitempty"`
	TmpID     string    `json:"tmpId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Details   string    `json:"details,omitempty"`
	Existing  Item      `json:"existingItem,omitempty"`
	Total     int       `json:"totalItems,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func ConnectedEvent(websetID string) StreamEvent {
	return StreamEvent{Type: EventConnected, WebsetID: websetID}
}

func StatusEvent(status string, itemCount int) StreamEvent {
	return StreamEvent{Type: EventStatus, Status: status, ItemCount: itemCount}
}

func ItemEvent(item Item) StreamEvent {
	return StreamEvent{Type: EventItem, Item: item}
}

func PendingEvent(tmpID string) StreamEvent {
	return StreamEvent{Type: EventPending, TmpID: tmpID}
}

func DropEvent(tmpID string) StreamEvent {
	return StreamEvent{Type: EventDrop, TmpID: tmpID}
}

func ConfirmEvent(data Item) StreamEvent {
	return StreamEvent{Type: EventConfirm, Data: data}
}

func RejectedEvent(item Item, reason, details string, existing Item) StreamEvent {
	return StreamEvent{Type: EventRejected, Item: item, Reason: reason, Details: details, Existing: existing}
}

func FinishedEvent(totalItems int) StreamEvent {
	return StreamEvent{Type: EventFinished, Status: "idle", Total: totalItems}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: message}
}
