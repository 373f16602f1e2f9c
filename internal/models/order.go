package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// GuestEmail is the identity used for purchases made without an account
const GuestEmail = "guest"

// OrderItem is a cart line frozen at order time
type OrderItem struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Image string  `json:"image,omitempty"`
	Price float64 `json:"price"`
	Qty   int     `json:"qty"`
}

// Quantity returns Qty, treating an unset quantity as one unit
func (i OrderItem) Quantity() int {
	if i.Qty <= 0 {
		return 1
	}
	return i.Qty
}

// OrderItems is stored as a JSON array column
type OrderItems []OrderItem

// Value implements driver.Valuer
func (items OrderItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner
func (items *OrderItems) Scan(src interface{}) error {
	return scanJSON(src, items)
}

// Snapshot is a free-form JSON object copied from checkout input (address, payment)
type Snapshot map[string]interface{}

// Value implements driver.Valuer
func (s Snapshot) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *Snapshot) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// Clone deep-copies the snapshot through a JSON round trip so nested maps are not shared
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}

	raw, err := json.Marshal(s)
	if err != nil {
		out := make(Snapshot, len(s))
		for k, v := range s {
			out[k] = v
		}
		return out
	}

	var out Snapshot
	_ = json.Unmarshal(raw, &out)
	return out
}

// String returns the string value stored under key, or ""
func (s Snapshot) String(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// Order represents a placed purchase. Items, totals, address and payment are frozen at creation;
// Status, UpdatedAt and Version change over its life.
type Order struct {
	ID        string         `db:"id" json:"id"`
	UserEmail string         `db:"user_email" json:"userEmail"`
	Customer  string         `db:"customer" json:"customer"`
	Items     OrderItems     `db:"items" json:"items"`
	Subtotal  float64        `db:"subtotal" json:"subtotal"`
	Tax       float64        `db:"tax" json:"tax"`
	Total     float64        `db:"total" json:"total"`
	Shipping  *ShippingQuote `db:"shipping" json:"shipping,omitempty"`
	Address   Snapshot       `db:"address" json:"address"`
	Payment   Snapshot       `db:"payment" json:"payment"`
	Status    OrderStatus    `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
	Date      string         `db:"date" json:"date"`
	Version   int64          `db:"version" json:"version"`
}

// OrderDraft is what a consumer submits to create an order
type OrderDraft struct {
	ID        string         `json:"id,omitempty"`
	UserEmail string         `json:"userEmail"`
	Customer  string         `json:"customer"`
	Items     []OrderItem    `json:"items"`
	Subtotal  float64        `json:"subtotal"`
	Tax       float64        `json:"tax"`
	Total     float64        `json:"total"`
	Shipping  *ShippingQuote `json:"shipping,omitempty"`
	Address   Snapshot       `json:"address,omitempty"`
	Payment   Snapshot       `json:"payment,omitempty"`
}

// OrderPatch carries the fields an admin edit may overwrite; nil fields are left alone
type OrderPatch struct {
	UserEmail *string        `json:"userEmail,omitempty"`
	Customer  *string        `json:"customer,omitempty"`
	Items     *[]OrderItem   `json:"items,omitempty"`
	Subtotal  *float64       `json:"subtotal,omitempty"`
	Tax       *float64       `json:"tax,omitempty"`
	Total     *float64       `json:"total,omitempty"`
	Shipping  *ShippingQuote `json:"shipping,omitempty"`
	Address   Snapshot       `json:"address,omitempty"`
	Payment   Snapshot       `json:"payment,omitempty"`
	Status    *OrderStatus   `json:"status,omitempty"`
	Date      *string        `json:"date,omitempty"`
	// ExpectedVersion turns the edit into a compare-and-swap against the stored version
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

// NewOrder builds a Pending order from a draft, deep-copying everything the draft references
func NewOrder(draft OrderDraft, now time.Time) *Order {
	id := draft.ID
	if id == "" {
		id = GenerateTimeID("ORD", now)
	}

	customer := draft.Customer
	if customer == "" {
		customer = "Customer"
	}

	return &Order{
		ID:        id,
		UserEmail: draft.UserEmail,
		Customer:  customer,
		Items:     cloneItems(draft.Items),
		Subtotal:  draft.Subtotal,
		Tax:       draft.Tax,
		Total:     draft.Total,
		Shipping:  draft.Shipping.Clone(),
		Address:   draft.Address.Clone(),
		Payment:   draft.Payment.Clone(),
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Date:      DisplayDate(now),
		Version:   1,
	}
}

// Apply shallow-merges the patch into the order and reports whether the status changed
func (o *Order) Apply(p OrderPatch) (statusChanged bool) {
	if p.UserEmail != nil {
		o.UserEmail = *p.UserEmail
	}
	if p.Customer != nil {
		o.Customer = *p.Customer
	}
	if p.Items != nil {
		o.Items = cloneItems(*p.Items)
	}
	if p.Subtotal != nil {
		o.Subtotal = *p.Subtotal
	}
	if p.Tax != nil {
		o.Tax = *p.Tax
	}
	if p.Total != nil {
		o.Total = *p.Total
	}
	if p.Shipping != nil {
		o.Shipping = p.Shipping.Clone()
	}
	if p.Address != nil {
		o.Address = p.Address.Clone()
	}
	if p.Payment != nil {
		o.Payment = p.Payment.Clone()
	}
	if p.Date != nil {
		o.Date = *p.Date
	}
	if p.Status != nil && *p.Status != o.Status {
		o.Status = *p.Status
		statusChanged = true
	}
	return statusChanged
}

// FirstItemID returns the id of the first line item, or "" for an empty order
func (o *Order) FirstItemID() string {
	if len(o.Items) == 0 {
		return ""
	}
	return o.Items[0].ID
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	c := *o
	c.Items = cloneItems(o.Items)
	c.Shipping = o.Shipping.Clone()
	c.Address = o.Address.Clone()
	c.Payment = o.Payment.Clone()
	return &c
}

// CloneOrders deep-copies a slice of orders
func CloneOrders(orders []*Order) []*Order {
	out := make([]*Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}

func cloneItems(items []OrderItem) OrderItems {
	out := make(OrderItems, len(items))
	copy(out, items)
	return out
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
