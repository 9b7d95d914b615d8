// Package room builds and parses chat room ids.
//
// Batch rooms are "batch:<batchId>". Direct rooms are "dm:" followed by the
// participant ids sorted lexicographically and joined with ':', so any two
// peers resolve to the same id regardless of argument order.
package room

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Kind string

const (
	KindBatch  Kind = "batch"
	KindDirect Kind = "dm"
)

const sep = ":"

var (
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrNonCanonical  = errors.New("direct room id is not canonical")
)

// ID is a parsed room id.
type ID struct {
	Kind         Kind
	BatchID      string
	Participants []string
}

func BatchID(batchID string) string {
	return string(KindBatch) + sep + batchID
}

// DirectID returns the canonical dm room id for the given participants.
func DirectID(userIDs ...string) string {
	sorted := slices.Clone(userIDs)
	slices.Sort(sorted)
	return string(KindDirect) + sep + strings.Join(sorted, sep)
}

// Generate is the kind-dispatching form of BatchID / DirectID.
func Generate(kind Kind, ids ...string) (string, error) {
	for _, id := range ids {
		if id == "" || strings.Contains(id, sep) {
			return "", fmt.Errorf("%w: bad component %q", ErrInvalidRoomID, id)
		}
	}
	switch kind {
	case KindBatch:
		if len(ids) != 1 {
			return "", fmt.Errorf("%w: batch room takes one id, got %d", ErrInvalidRoomID, len(ids))
		}
		return BatchID(ids[0]), nil
	case KindDirect:
		if len(ids) < 2 {
			return "", fmt.Errorf("%w: direct room needs at least two participants", ErrInvalidRoomID)
		}
		return DirectID(ids...), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRoomID, kind)
}

func Parse(roomID string) (ID, error) {
	kind, rest, ok := strings.Cut(roomID, sep)
	if !ok || rest == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}

	switch Kind(kind) {
	case KindBatch:
		if strings.Contains(rest, sep) {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
		}
		return ID{Kind: KindBatch, BatchID: rest}, nil

	case KindDirect:
		parts := strings.Split(rest, sep)
		if len(parts) < 2 {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
		}
		for _, p := range parts {
			if p == "" {
				return ID{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
			}
		}
		if !slices.IsSorted(parts) {
			return ID{}, fmt.Errorf("%w: %q", ErrNonCanonical, roomID)
		}
		return ID{Kind: KindDirect, Participants: parts}, nil
	}

	return ID{}, fmt.Errorf("%w: unknown kind in %q", ErrInvalidRoomID, roomID)
}

func (id ID) String() string {
	if id.Kind == KindBatch {
		return BatchID(id.BatchID)
	}
	return DirectID(id.Participants...)
}

// HasParticipant reports whether userID is listed in a direct room.
func (id ID) HasParticipant(userID string) bool {
	return id.Kind == KindDirect && slices.Contains(id.Participants, userID)
}
