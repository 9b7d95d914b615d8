package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/mahaj/academy-chat/pkg/model"
)

type notificationPublisher interface {
	Publish(ctx context.Context, req model.NotificationRequest) error
}

// NotifyHandler lets admins push a notification to a user's live sessions.
// The request is queued for the gateways; delivery is best effort.
func NotifyHandler(pub notificationPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if identity.Role != model.RoleAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		var req model.NotificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		if _, err := model.ParseNotificationType(req.Type); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Message) == "" {
			http.Error(w, "title or message is required", http.StatusBadRequest)
			return
		}

		if err := pub.Publish(r.Context(), req); err != nil {
			log.Printf("[API] Failed to queue notification for %s: %v", req.UserID, err)
			http.Error(w, "Failed to queue notification", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
