package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-sync/internal/models"
)

// getNotificationsHandler returns the notifications of ?email=, newest first
func (s *Server) getNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		s.respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	list, err := s.deps.Notifications.ListForUser(r.Context(), email)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch notifications")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: list})
}

func (s *Server) addNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var draft models.NotificationDraft
	if !s.decode(w, r, &draft) {
		return
	}

	n, err := s.deps.Notifications.Add(r.Context(), draft)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to add notification")
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: n})
}

func (s *Server) markNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	n, err := s.deps.Notifications.MarkRead(r.Context(), id)
	if err != nil {
		s.respondWithAppError(w, err, "Failed to mark notification read")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: n})
}

// getAllNotificationsHandler returns every notification in creation order
func (s *Server) getAllNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifications.ListAll(r.Context())
	if err != nil {
		s.respondWithAppError(w, err, "Failed to fetch notifications")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: list})
}
