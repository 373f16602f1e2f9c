package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/pricing"
	"github.com/vaidashi/storefront-sync/internal/promo"
	"github.com/vaidashi/storefront-sync/internal/shipping"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// CheckoutRequest is a cart being priced or placed
type CheckoutRequest struct {
	UserEmail  string             `json:"userEmail"`
	Customer   string             `json:"customer"`
	Items      []models.OrderItem `json:"items"`
	PromoCode  string             `json:"promoCode,omitempty"`
	Address    models.Snapshot    `json:"address,omitempty"`
	Payment    models.Snapshot    `json:"payment,omitempty"`
	ShippingID string             `json:"shippingId,omitempty"`
}

// CheckoutQuote is a priced cart
type CheckoutQuote struct {
	Breakdown     pricing.Breakdown      `json:"breakdown"`
	Promo         *promo.Result          `json:"promo,omitempty"`
	Rates         []models.ShippingQuote `json:"rates"`
	Shipping      *models.ShippingQuote  `json:"shipping,omitempty"`
	ShippingError string                 `json:"shippingError,omitempty"`
}

// CheckoutService turns carts into orders with frozen totals
type CheckoutService struct {
	orders *OrderService
	calc   *pricing.Calculator
	quoter shipping.Quoter
	logger logger.Logger
}

// NewCheckoutService creates a new CheckoutService
func NewCheckoutService(orders *OrderService, calc *pricing.Calculator, quoter shipping.Quoter, logger logger.Logger) *CheckoutService {
	return &CheckoutService{
		orders: orders,
		calc:   calc,
		quoter: quoter,
		logger: logger,
	}
}

// Quote prices req. An invalid promo code or an unavailable destination is reported inside
// the quote; only a cancelled context is an error.
func (s *CheckoutService) Quote(ctx context.Context, req CheckoutRequest) (quote *CheckoutQuote, err error) {
	ctx, span := tracer.Start(ctx, "CheckoutService.Quote")
	defer func() { finishSpan(span, err) }()

	subtotal := pricing.Subtotal(req.Items)
	quote = &CheckoutQuote{Rates: []models.ShippingQuote{}}

	var rule *promo.Rule
	if strings.TrimSpace(req.PromoCode) != "" {
		res := promo.Validate(req.PromoCode, subtotal, "")
		quote.Promo = &res
		if res.Valid {
			rule = res.Rule
		}
	}

	rates, err := s.quoter.Quote(ctx, shipping.Request{
		Destination: shipping.DestinationFromSnapshot(req.Address),
		Items:       req.Items,
	})
	if err != nil {
		return nil, err
	}
	quote.Rates = rates.Rates
	quote.ShippingError = rates.Error
	quote.Shipping = selectRate(rates.Rates, req.ShippingID)

	quote.Breakdown = s.calc.Totals(subtotal, rule, quote.Shipping.PriceOrZero())
	return quote, nil
}

// PlaceOrder prices req and creates the order. The stored subtotal is the pre-discount
// cart value; tax and total reflect the discount and shipping.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*models.Order, *CheckoutQuote, error) {
	if len(req.Items) == 0 {
		return nil, nil, apperrors.NewValidationError("cart is empty")
	}

	quote, err := s.Quote(ctx, req)
	if err != nil {
		return nil, nil, apperrors.NewTimeoutError(fmt.Sprintf("checkout: %v", err))
	}

	if quote.Promo != nil && !quote.Promo.Valid {
		return nil, quote, apperrors.NewValidationError(quote.Promo.Message).WithContext("reason", string(quote.Promo.Reason))
	}
	if req.ShippingID != "" && quote.Shipping == nil {
		return nil, quote, apperrors.NewValidationError(fmt.Sprintf("unknown shipping option %q", req.ShippingID))
	}

	order, err := s.orders.CreateOrder(ctx, models.OrderDraft{
		UserEmail: req.UserEmail,
		Customer:  req.Customer,
		Items:     req.Items,
		Subtotal:  quote.Breakdown.Subtotal,
		Tax:       quote.Breakdown.Tax,
		Total:     quote.Breakdown.Total,
		Shipping:  quote.Shipping,
		Address:   req.Address,
		Payment:   req.Payment,
	})
	if err != nil {
		return nil, quote, err
	}

	s.logger.Info("Checkout placed", "orderID", order.ID, "total", order.Total, "promo", req.PromoCode)
	return order, quote, nil
}

// selectRate picks the rate with id, or the cheapest when id is empty
func selectRate(rates []models.ShippingQuote, id string) *models.ShippingQuote {
	if len(rates) == 0 {
		return nil
	}
	if id == "" {
		return rates[0].Clone()
	}
	for i := range rates {
		if rates[i].ID == id {
			return rates[i].Clone()
		}
	}
	return nil
}
