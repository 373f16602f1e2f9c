package models

import "time"

// AdminRecipient is the pseudo-recipient for administrator-facing notifications
const AdminRecipient = "admin"

// Notification types that drive consumer affordances
const (
	NotificationTypeDelivery    = "delivery"
	NotificationTypeNewCustomer = "new_customer"
	NotificationTypeInfo        = "info"
)

// Notification is a user-targeted event record. Only Read ever changes, false to true.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserEmail string    `db:"user_email" json:"userEmail"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
	OrderID   string    `db:"order_id" json:"orderId,omitempty"`
	ProductID string    `db:"product_id" json:"productId,omitempty"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NotificationDraft is the caller-supplied part of a notification
type NotificationDraft struct {
	UserEmail string `json:"userEmail"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	OrderID   string `json:"orderId,omitempty"`
	ProductID string `json:"productId,omitempty"`
}

// NewNotification stamps identity and timestamp onto a draft
func NewNotification(draft NotificationDraft, now time.Time) *Notification {
	kind := draft.Type
	if kind == "" {
		kind = NotificationTypeInfo
	}

	return &Notification{
		ID:        GenerateTimeID("NTF", now),
		UserEmail: draft.UserEmail,
		Type:      kind,
		Message:   draft.Message,
		OrderID:   draft.OrderID,
		ProductID: draft.ProductID,
		Read:      false,
		CreatedAt: now,
	}
}

// Clone returns a copy of the notification
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// CloneNotifications copies a slice of notifications
func CloneNotifications(list []*Notification) []*Notification {
	out := make([]*Notification, len(list))
	for i, n := range list {
		out[i] = n.Clone()
	}
	return out
}
