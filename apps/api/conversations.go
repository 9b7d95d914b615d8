package main

import (
	"context"
	"log"
	"net/http"

	"github.com/mahaj/academy-chat/pkg/model"
)

type conversationReader interface {
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

// ConversationsHandler lists the caller's rooms, most recent first, with
// unread counts.
func ConversationsHandler(store conversationReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conversations, err := store.Conversations(r.Context(), identity.ID)
		if err != nil {
			log.Printf("[API] Failed to list conversations for %s: %v", identity.ID, err)
			http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
			return
		}
		if conversations == nil {
			conversations = []model.Conversation{}
		}
		writeJSON(w, http.StatusOK, conversations)
	}
}
