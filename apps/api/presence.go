package main

import (
	"context"
	"log"
	"net/http"
	"slices"

	"github.com/mahaj/academy-chat/pkg/model"
)

type presenceReader interface {
	State(ctx context.Context, userID string) (model.PresenceState, error)
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
}

// PresenceHandler serves the presence the gateways mirror into Redis.
type PresenceHandler struct {
	presence presenceReader
	perms    roomAccess
}

func NewPresenceHandler(presence presenceReader, perms roomAccess) *PresenceHandler {
	return &PresenceHandler{presence: presence, perms: perms}
}

// RoomOnline answers GET /rooms/{id}/online.
func (h *PresenceHandler) RoomOnline(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if _, ok := authorizeRoom(w, r, h.perms, roomID); !ok {
		return
	}

	users, err := h.presence.RoomMembers(r.Context(), roomID)
	if err != nil {
		log.Printf("[API] Failed to fetch presence for room %s: %v", roomID, err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	slices.Sort(users)
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, users)
}

// UserPresence answers GET /presence/{userId}.
func (h *PresenceHandler) UserPresence(w http.ResponseWriter, r *http.Request) {
	st, err := h.presence.State(r.Context(), r.PathValue("userId"))
	if err != nil {
		log.Printf("[API] Failed to fetch presence: %v", err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
