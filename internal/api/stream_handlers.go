package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vaidashi/storefront-sync/internal/models"
)

// streamKeepAlive is how often an idle stream sends a comment line
const streamKeepAlive = 25 * time.Second

// latest holds at most one pending snapshot; a newer one replaces an undelivered older one
type latest struct {
	ch chan interface{}
}

func newLatest() *latest {
	return &latest{ch: make(chan interface{}, 1)}
}

// prime queues v unless a snapshot is already pending, which is then at least as new
func (l *latest) prime(v interface{}) {
	select {
	case l.ch <- v:
	default:
	}
}

func (l *latest) offer(v interface{}) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

// streamOrdersHandler pushes the full order collection as a server-sent event after every change
func (s *Server) streamOrdersHandler(w http.ResponseWriter, r *http.Request) {
	pending := newLatest()
	unsubscribe := s.deps.Hub.Subscribe(func(list []*models.Order) { pending.offer(list) })
	defer unsubscribe()

	orders, err := s.deps.Orders.GetAllOrders(r.Context())
	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch orders")
		return
	}
	pending.prime(orders)

	s.stream(w, r, "orders", pending)
}

// streamNotificationsHandler pushes the notifications of ?email= (all of them when empty)
func (s *Server) streamNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")

	pending := newLatest()
	unsubscribe := s.deps.Hub.SubscribeNotifications(email, func(list []*models.Notification) { pending.offer(list) })
	defer unsubscribe()

	var (
		list []*models.Notification
		err  error
	)
	if email != "" {
		list, err = s.deps.Notifications.ListForUser(r.Context(), email)
	} else {
		list, err = s.deps.Notifications.ListAll(r.Context())
	}
	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch notifications")
		return
	}
	pending.prime(list)

	s.stream(w, r, "notifications", pending)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, event string, pending *latest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stop:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snapshot := <-pending.ch:
			payload, err := json.Marshal(snapshot)
			if err != nil {
				s.logger.Error("Failed to encode stream snapshot", "error", err, "event", event)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
