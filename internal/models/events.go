package models

import (
	"encoding/json"
	"time"
)

// Change topics, one per shared collection
const (
	TopicOrders        = "order_updates"
	TopicNotifications = "notifications_updated"
)

// ChangeKind describes what happened to the collection
type ChangeKind string

const (
	ChangeOrderCreated       ChangeKind = "order_created"
	ChangeOrderUpdated       ChangeKind = "order_updated"
	ChangeOrderStatusChanged ChangeKind = "order_status_changed"
	ChangeOrderDeleted       ChangeKind = "order_deleted"
	ChangeNotificationAdded  ChangeKind = "notification_added"
	ChangeNotificationRead   ChangeKind = "notification_read"
)

// Topic returns the collection topic a change kind belongs to
func (k ChangeKind) Topic() string {
	switch k {
	case ChangeNotificationAdded, ChangeNotificationRead:
		return TopicNotifications
	default:
		return TopicOrders
	}
}

// ChangeSignal is the cross-context "this collection changed" message. It carries no
// record data; receivers reload the collection.
type ChangeSignal struct {
	EventID  string     `json:"event_id"`
	Topic    string     `json:"topic"`
	Origin   string     `json:"origin"`
	Kind     ChangeKind `json:"kind"`
	EntityID string     `json:"entity_id,omitempty"`
	At       time.Time  `json:"at"`
}

// NewChangeSignal creates a signal for kind emitted by origin
func NewChangeSignal(origin string, kind ChangeKind, entityID string) ChangeSignal {
	return ChangeSignal{
		EventID:  GenerateID("evt"),
		Topic:    kind.Topic(),
		Origin:   origin,
		Kind:     kind,
		EntityID: entityID,
		At:       GetCurrentTime(),
	}
}

// Marshal encodes the signal for a transport
func (s ChangeSignal) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalChangeSignal decodes a transport payload
func UnmarshalChangeSignal(data []byte) (ChangeSignal, error) {
	var s ChangeSignal
	err := json.Unmarshal(data, &s)
	return s, err
}
