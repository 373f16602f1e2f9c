package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-sync/internal/models"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "0.2.0",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    health,
	})
}

// getOrdersHandler returns every order, or the orders of ?email=
func (s *Server) getOrdersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		orders []*models.Order
		err    error
	)

	if email := r.URL.Query().Get("email"); email != "" {
		orders, err = s.deps.Orders.GetUserOrders(ctx, email)
	} else {
		orders, err = s.deps.Orders.GetAllOrders(ctx)
	}

	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch orders")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: orders})
}

// createOrderHandler creates a new order
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var draft models.OrderDraft
	if !s.decode(w, r, &draft) {
		return
	}

	order, err := s.deps.Orders.CreateOrder(r.Context(), draft)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to create order")
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: order})
}

// getOrderByIDHandler returns an order by ID
func (s *Server) getOrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, err := s.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch order")
		return
	}

	w.Header().Set("ETag", strconv.FormatInt(order.Version, 10))
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// updateOrderHandler merges the body into an order. If-Match carries the expected version.
func (s *Server) updateOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch models.OrderPatch
	if !s.decode(w, r, &patch) {
		return
	}

	if match := strings.Trim(r.Header.Get("If-Match"), `"`); match != "" {
		version, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, "If-Match must be an order version")
			return
		}
		patch.ExpectedVersion = &version
	}

	order, err := s.deps.Orders.UpdateOrder(r.Context(), id, patch)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to update order")
		return
	}

	w.Header().Set("ETag", strconv.FormatInt(order.Version, 10))
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// deleteOrderHandler removes an order
func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.deps.Orders.DeleteOrder(r.Context(), id); err != nil {
		s.respondWithAppError(w, err, "Failed to delete order")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"id": id}})
}

// updateOrderStatusHandler sets an order's status
func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, err := s.deps.Orders.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to update order status")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// decode reads a JSON body into dst, answering 400 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

// respondWithAppError maps err onto its HTTP status. Unclassified errors are logged and
// reported with fallback.
func (s *Server) respondWithAppError(w http.ResponseWriter, err error, fallback string) {
	code := apperrors.StatusCode(err)

	var appErr *apperrors.AppError
	message := fallback
	if errors.As(err, &appErr) {
		message = appErr.Error()
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error(fallback, "error", err, "status", code)
	}

	s.respondWithError(w, code, message)
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
