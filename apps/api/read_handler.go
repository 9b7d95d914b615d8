package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
)

type readMarker interface {
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) error
}

type ReadRequest struct {
	RoomID string `json:"roomId"`
}

// ReadHandler records a read marker for the caller and resets the room's
// unread count.
func ReadHandler(store readMarker, perms roomAccess, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		identity, ok := authorizeRoom(w, r, perms, req.RoomID)
		if !ok {
			return
		}

		at := now().UTC()
		if err := store.MarkRead(r.Context(), req.RoomID, identity.ID, at); err != nil {
			log.Printf("[API] Failed to mark %s read for %s: %v", req.RoomID, identity.ID, err)
			http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, model.ReadMarker{RoomID: req.RoomID, UserID: identity.ID, ReadAt: at})
	}
}
