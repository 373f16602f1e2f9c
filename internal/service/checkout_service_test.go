package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/pricing"
	"github.com/vaidashi/storefront-sync/internal/shipping"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

func newCheckout(f *fixture) *CheckoutService {
	return NewCheckoutService(
		f.svc,
		pricing.NewCalculator(pricing.DefaultTaxRate, true),
		shipping.NewEstimator(0, nil, logger.Nop()),
		logger.Nop(),
	)
}

func TestCheckoutPlaceOrderWithPromo(t *testing.T) {
	f := newFixture()
	checkout := newCheckout(f)

	order, quote, err := checkout.PlaceOrder(context.Background(), CheckoutRequest{
		UserEmail: "a@b.com",
		Items:     []models.OrderItem{{ID: "p1", Title: "Sofa", Price: 10000, Qty: 1}},
		PromoCode: " save10 ",
	})
	require.NoError(t, err)

	assert.Equal(t, 1000.0, quote.Breakdown.Discount)
	assert.Equal(t, 9000.0, quote.Breakdown.Taxable)
	assert.Equal(t, 720.0, quote.Breakdown.Tax)
	assert.Equal(t, 9720.0, quote.Breakdown.Total)
	assert.Equal(t, shipping.MissingDestinationMessage, quote.ShippingError)

	assert.Equal(t, 10000.0, order.Subtotal)
	assert.Equal(t, 720.0, order.Tax)
	assert.Equal(t, 9720.0, order.Total)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestCheckoutSelectsCheapestRate(t *testing.T) {
	f := newFixture()
	checkout := newCheckout(f)

	quote, err := checkout.Quote(context.Background(), CheckoutRequest{
		Items:   []models.OrderItem{{ID: "p1", Price: 100, Qty: 2}, {ID: "p2", Price: 50}},
		Address: models.Snapshot{"zip": "10001"},
	})
	require.NoError(t, err)

	require.Len(t, quote.Rates, 12)
	require.NotNil(t, quote.Shipping)
	assert.Equal(t, "fedex_ground", quote.Shipping.ID)
	assert.Equal(t, 6.5, quote.Breakdown.Shipping)
	assert.Equal(t, 250.0, quote.Breakdown.Subtotal)
	assert.Equal(t, 20.0, quote.Breakdown.Tax)
	assert.Equal(t, 276.5, quote.Breakdown.Total)
}

func TestCheckoutRejectsInvalidPromo(t *testing.T) {
	f := newFixture()
	checkout := newCheckout(f)

	_, quote, err := checkout.PlaceOrder(context.Background(), CheckoutRequest{
		Items:     []models.OrderItem{{ID: "p1", Price: 20}},
		PromoCode: "SUMMER30",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	require.NotNil(t, quote.Promo)
	assert.False(t, quote.Promo.Valid)

	all, err := f.svc.GetAllOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckoutRejectsUnknownShippingOption(t *testing.T) {
	f := newFixture()
	checkout := newCheckout(f)

	_, _, err := checkout.PlaceOrder(context.Background(), CheckoutRequest{
		Items:      []models.OrderItem{{ID: "p1", Price: 20}},
		Address:    models.Snapshot{"zip": "10001"},
		ShippingID: "pigeon_overnight",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	f := newFixture()

	_, _, err := newCheckout(f).PlaceOrder(context.Background(), CheckoutRequest{UserEmail: "a@b.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
