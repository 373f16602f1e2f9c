package shipping

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/pricing"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// MissingDestinationMessage is returned when the destination has no postal code
const MissingDestinationMessage = "Enter ZIP / postal code to get rates"

// Carrier is a shipping company
type Carrier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is a delivery speed tier
type Service struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
	ETA        string  `json:"eta"`
}

var carriers = []Carrier{
	{ID: "ups", Name: "UPS"},
	{ID: "fedex", Name: "FedEx"},
	{ID: "usps", Name: "USPS"},
	{ID: "dhl", Name: "DHL"},
}

var services = []Service{
	{ID: "overnight", Name: "Overnight", Multiplier: 3.2, ETA: "1 business day"},
	{ID: "express", Name: "2-Day", Multiplier: 2.0, ETA: "2 business days"},
	{ID: "ground", Name: "Ground", Multiplier: 1.0, ETA: "3-7 business days"},
}

// Carriers lists the supported carriers
func Carriers() []Carrier {
	out := make([]Carrier, len(carriers))
	copy(out, carriers)
	return out
}

// Destination is where the parcel goes. Zip is the routing key.
type Destination struct {
	Zip     string `json:"zip"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// DestinationFromSnapshot reads a destination out of a checkout address snapshot
func DestinationFromSnapshot(s models.Snapshot) Destination {
	return Destination{
		Zip:     s.String("zip"),
		City:    s.String("city"),
		State:   s.String("state"),
		Country: s.String("country"),
	}
}

// Request asks for rates for a cart going to a destination
type Request struct {
	Destination Destination        `json:"destination"`
	Items       []models.OrderItem `json:"items"`
}

// Result carries the quotes, cheapest first, or an error message with no quotes
type Result struct {
	Rates []models.ShippingQuote `json:"rates"`
	Error string                 `json:"error,omitempty"`
}

// RateSource is a remote carrier rate provider
type RateSource interface {
	Rates(ctx context.Context, req Request) ([]models.ShippingQuote, error)
}

// Estimator produces shipping quotes. When a remote source is configured it is asked
// first; any failure falls back to the built-in rate table.
type Estimator struct {
	latency time.Duration
	remote  RateSource
	logger  logger.Logger
}

// NewEstimator creates an estimator. latency simulates the round trip of the built-in table.
func NewEstimator(latency time.Duration, remote RateSource, logger logger.Logger) *Estimator {
	return &Estimator{
		latency: latency,
		remote:  remote,
		logger:  logger,
	}
}

// Quote returns rates for req. Validation problems come back inside Result; the error is
// only set when ctx ends first.
func (e *Estimator) Quote(ctx context.Context, req Request) (Result, error) {
	zip := strings.TrimSpace(req.Destination.Zip)

	if e.remote != nil && zip != "" {
		rates, err := e.remote.Rates(ctx, req)
		if err == nil && len(rates) > 0 {
			sortByPrice(rates)
			return Result{Rates: rates}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		e.logger.Warn("Remote carrier rates unavailable, using rate table", "error", err, "zip", zip)
	} else if err := e.wait(ctx); err != nil {
		return Result{}, err
	}

	if zip == "" {
		return Result{Rates: []models.ShippingQuote{}, Error: MissingDestinationMessage}, nil
	}

	return Result{Rates: TableRates(zip, req.Items)}, nil
}

func (e *Estimator) wait(ctx context.Context) error {
	if e.latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(e.latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TableRates prices every carrier and service for zip, cheapest first
func TableRates(zip string, items []models.OrderItem) []models.ShippingQuote {
	base := basePrice(items)

	rates := make([]models.ShippingQuote, 0, len(carriers)*len(services))
	for _, car := range carriers {
		jitter := 1 + float64(hashZip(zip+car.ID)%10)/100

		for _, svc := range services {
			price := roundCents(base * svc.Multiplier * jitter)

			rates = append(rates, models.ShippingQuote{
				ID:          fmt.Sprintf("%s_%s", car.ID, svc.ID),
				Carrier:     car.ID,
				CarrierName: car.Name,
				Service:     svc.ID,
				ServiceName: svc.Name,
				ETA:         svc.ETA,
				Price:       price,
			})
		}
	}

	sortByPrice(rates)
	return rates
}

// roundCents rounds the exact binary value of x to cents, ties away from zero, so
// 1.005 (stored as 1.00499...) becomes 1.00
func roundCents(x float64) float64 {
	return decimal.NewFromBigRat(new(big.Rat).SetFloat64(x), 2).InexactFloat64()
}

// basePrice grows with cart value and unit count, bounded to [5, 25]
func basePrice(items []models.OrderItem) float64 {
	subtotal := 0.0
	for _, item := range items {
		subtotal += item.Price * float64(item.Quantity())
	}

	raw := subtotal*0.02 + float64(pricing.TotalQuantity(items))*0.5
	return math.Max(5, math.Min(25, raw))
}

// hashZip is a 31-multiplier string hash over UTF-16 code units. The shift wraps at 32 bits
// while the running sum does not, so results stay stable for a given input.
func hashZip(s string) int64 {
	var h int64
	for _, c := range utf16.Encode([]rune(s)) {
		h = int64(int32(h)<<5) - h + int64(c)
	}
	if h < 0 {
		return -h
	}
	return h
}

func sortByPrice(rates []models.ShippingQuote) {
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].Price < rates[j].Price })
}
