// Package presence mirrors presence state into Redis so the HTTP API and
// other services can read it.
//
// Keys:
//
//	presence:<userId>     hash {status, last_seen (unix ms)}
//	room:<roomId>:online  set of member user ids currently in the room
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/redis/go-redis/v9"
)

// stateTTL bounds how long a stale entry survives a crashed gateway.
const stateTTL = 7 * 24 * time.Hour

func userKey(userID string) string { return "presence:" + userID }
func roomKey(roomID string) string { return "room:" + roomID + ":online" }

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SetState(ctx context.Context, st model.PresenceState) error {
	key := userKey(st.UserID)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "status", string(st.Status), "last_seen", st.LastSeen.UnixMilli())
		p.Expire(ctx, key, stateTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set presence for %s: %w", st.UserID, err)
	}
	return nil
}

// State returns the stored state. Unknown users are reported offline.
func (s *RedisStore) State(ctx context.Context, userID string) (model.PresenceState, error) {
	st := model.PresenceState{UserID: userID, Status: model.StatusOffline}

	vals, err := s.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return st, nil
		}
		return st, fmt.Errorf("get presence for %s: %w", userID, err)
	}
	if status, ok := vals["status"]; ok && model.PresenceStatus(status) == model.StatusOnline {
		st.Status = model.StatusOnline
	}
	if ms, err := strconv.ParseInt(vals["last_seen"], 10, 64); err == nil {
		st.LastSeen = time.UnixMilli(ms)
	}
	return st, nil
}

func (s *RedisStore) JoinRoom(ctx context.Context, roomID, userID string) error {
	return s.rdb.SAdd(ctx, roomKey(roomID), userID).Err()
}

func (s *RedisStore) LeaveRoom(ctx context.Context, roomID, userID string) error {
	return s.rdb.SRem(ctx, roomKey(roomID), userID).Err()
}

func (s *RedisStore) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return s.rdb.SMembers(ctx, roomKey(roomID)).Result()
}
