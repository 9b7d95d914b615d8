package auth

import (
	"context"
	"fmt"

	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/mahaj/academy-chat/pkg/room"
	"github.com/redis/go-redis/v9"
)

// Enrollments answers batch membership questions for coaches and students.
type Enrollments interface {
	IsEnrolled(ctx context.Context, batchID, userID string) (bool, error)
}

// Policy decides room access server-side, whatever the client claims.
// Admins may enter any room. Everyone else may enter dm rooms that list them
// and batch rooms they are enrolled in.
type Policy struct {
	enrollments Enrollments
}

func NewPolicy(enrollments Enrollments) *Policy {
	return &Policy{enrollments: enrollments}
}

func (p *Policy) CanAccessRoom(ctx context.Context, identity model.Identity, roomID string) (bool, error) {
	id, err := room.Parse(roomID)
	if err != nil {
		return false, err
	}

	if identity.Role == model.RoleAdmin {
		return true, nil
	}

	switch id.Kind {
	case room.KindDirect:
		return id.HasParticipant(identity.ID), nil
	case room.KindBatch:
		ok, err := p.enrollments.IsEnrolled(ctx, id.BatchID, identity.ID)
		if err != nil {
			return false, fmt.Errorf("enrollment lookup for batch %s: %w", id.BatchID, err)
		}
		return ok, nil
	}
	return false, nil
}

func enrollmentKey(batchID string) string {
	return "batch:" + batchID + ":members"
}

// RedisEnrollments keeps batch rosters in Redis sets keyed batch:<id>:members.
type RedisEnrollments struct {
	rdb *redis.Client
}

func NewRedisEnrollments(rdb *redis.Client) *RedisEnrollments {
	return &RedisEnrollments{rdb: rdb}
}

func (e *RedisEnrollments) IsEnrolled(ctx context.Context, batchID, userID string) (bool, error) {
	return e.rdb.SIsMember(ctx, enrollmentKey(batchID), userID).Result()
}

func (e *RedisEnrollments) Members(ctx context.Context, batchID string) ([]string, error) {
	return e.rdb.SMembers(ctx, enrollmentKey(batchID)).Result()
}

func (e *RedisEnrollments) Enroll(ctx context.Context, batchID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]any, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	return e.rdb.SAdd(ctx, enrollmentKey(batchID), members...).Err()
}

func (e *RedisEnrollments) Unenroll(ctx context.Context, batchID, userID string) error {
	return e.rdb.SRem(ctx, enrollmentKey(batchID), userID).Err()
}
