package models

import (
	"database/sql/driver"
	"encoding/json"
)

// ShippingQuote is one carrier/service price estimate. Quotes are produced per checkout
// session; an order stores the one the shopper selected.
type ShippingQuote struct {
	ID          string  `json:"id"`
	Carrier     string  `json:"carrier"`
	CarrierName string  `json:"carrierName"`
	Service     string  `json:"service"`
	ServiceName string  `json:"serviceName"`
	ETA         string  `json:"eta"`
	Price       float64 `json:"price"`
}

// Clone returns a copy of the quote
func (q *ShippingQuote) Clone() *ShippingQuote {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

// PriceOrZero returns the quote price, or zero when no quote is selected
func (q *ShippingQuote) PriceOrZero() float64 {
	if q == nil {
		return 0
	}
	return q.Price
}

// Value implements driver.Valuer; a missing quote is stored as SQL NULL
func (q *ShippingQuote) Value() (driver.Value, error) {
	if q == nil {
		return nil, nil
	}
	return json.Marshal(q)
}

// Scan implements sql.Scanner
func (q *ShippingQuote) Scan(src interface{}) error {
	return scanJSON(src, q)
}
