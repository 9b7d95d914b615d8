package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/mahaj/academy-chat/pkg/room"
)

type tokenIssuer interface {
	GenerateToken(identity model.Identity) (string, error)
}

type roomAccess interface {
	CanAccessRoom(ctx context.Context, identity model.Identity, roomID string) (bool, error)
}

type historyReader interface {
	ListMessages(ctx context.Context, roomID string, page model.Page) ([]model.ChatMessage, error)
}

type LoginRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues development tokens for any identity and role. It is
// only mounted when APP_ENV=development; production identities come from the
// academy's auth service, which signs with the same secret.
func LoginHandler(issuer tokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		role := model.RoleCustomer
		if req.Role != "" {
			parsed, err := model.ParseRole(req.Role)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			role = parsed
		}

		token, err := issuer.GenerateToken(model.Identity{ID: req.UserID, Email: req.Email, Role: role})
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, LoginResponse{Token: token})
	}
}

// authorizeRoom writes the error response and returns false when identity
// may not read roomID.
func authorizeRoom(w http.ResponseWriter, r *http.Request, perms roomAccess, roomID string) (model.Identity, bool) {
	identity, ok := identityFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return model.Identity{}, false
	}
	allowed, err := perms.CanAccessRoom(r.Context(), identity, roomID)
	if err != nil {
		if errors.Is(err, room.ErrInvalidRoomID) || errors.Is(err, room.ErrNonCanonical) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return model.Identity{}, false
		}
		log.Printf("[API] Access check for %s in %s failed: %v", identity.ID, roomID, err)
		http.Error(w, "Failed to check room access", http.StatusInternalServerError)
		return model.Identity{}, false
	}
	if !allowed {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return model.Identity{}, false
	}
	return identity, true
}

type HistoryHandler struct {
	store historyReader
	perms roomAccess
}

func NewHistoryHandler(store historyReader, perms roomAccess) *HistoryHandler {
	return &HistoryHandler{store: store, perms: perms}
}

// ServeHTTP answers GET /history?room_id=&before=&limit= with messages
// oldest first.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	var page model.Page
	if v := q.Get("before"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "before must be a message id", http.StatusBadRequest)
			return
		}
		page.Before = before
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "limit must be a number", http.StatusBadRequest)
			return
		}
		page.Limit = limit
	}

	if _, ok := authorizeRoom(w, r, h.perms, roomID); !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), roomID, page.Normalize())
	if err != nil {
		log.Printf("[API] Failed to list messages for %s: %v", roomID, err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}
