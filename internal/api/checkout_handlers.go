package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/promo"
	"github.com/vaidashi/storefront-sync/internal/service"
	"github.com/vaidashi/storefront-sync/internal/shipping"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
)

type promoRequest struct {
	Code        string  `json:"code"`
	Subtotal    float64 `json:"subtotal"`
	AppliedCode string  `json:"appliedCode,omitempty"`
}

type promoResponse struct {
	promo.Result
	Discount float64 `json:"discount"`
}

type ratesRequest struct {
	// SessionID groups the requests of one checkout; a newer request supersedes older ones
	SessionID   string               `json:"sessionId,omitempty"`
	Destination shipping.Destination `json:"destination"`
	Items       []models.OrderItem   `json:"items"`
}

type placedOrder struct {
	Order *models.Order          `json:"order"`
	Quote *service.CheckoutQuote `json:"quote"`
}

// validatePromoHandler checks a code. Rejections are a successful response carrying the reason.
func (s *Server) validatePromoHandler(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if !s.decode(w, r, &req) {
		return
	}

	res := promo.Validate(req.Code, req.Subtotal, req.AppliedCode)
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    promoResponse{Result: res, Discount: promo.Calculate(req.Subtotal, res.Rule)},
	})
}

func (s *Server) getPromoCodesHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: promo.Available()})
}

// getShippingRatesHandler quotes a cart. A request superseded by a newer one in the same
// session gets 409 and should be discarded by the caller.
func (s *Server) getShippingRatesHandler(w http.ResponseWriter, r *http.Request) {
	var req ratesRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.Sessions.Get(shippingSessionID(req.SessionID, r)).Quote(r.Context(), shipping.Request{
		Destination: req.Destination,
		Items:       req.Items,
	})
	if errors.Is(err, apperrors.ErrStaleResponse) {
		s.respondWithError(w, http.StatusConflict, "superseded by a newer rate request")
		return
	}
	if err != nil {
		s.respondWithAppError(w, apperrors.NewTimeoutError("rate request cancelled"), "Failed to quote shipping")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: res})
}

// shippingSessionID falls back to the client host, without the port, so requests from one
// client on different connections share a session
func shippingSessionID(sessionID string, r *http.Request) string {
	if sessionID != "" {
		return sessionID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) getCarriersHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: shipping.Carriers()})
}

func (s *Server) checkoutQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if !s.decode(w, r, &req) {
		return
	}

	quote, err := s.deps.Checkout.Quote(r.Context(), req)
	if err != nil {
		s.respondWithAppError(w, apperrors.NewTimeoutError("quote cancelled"), "Failed to price checkout")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: quote})
}

// checkoutHandler places an order with the totals computed here, ignoring any client totals
func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, quote, err := s.deps.Checkout.PlaceOrder(r.Context(), req)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to place order")
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: placedOrder{Order: order, Quote: quote}})
}
