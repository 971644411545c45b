package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// rotateScript swaps the slot value only when it still holds the presented
// token. Returns 1 on swap, 0 when the slot is gone, -1 on mismatch.
var rotateScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// SessionRepository keeps one refresh token slot per (user, session) pair.
// Used when a user may hold several concurrent device sessions.
type SessionRepository struct {
	client redis.Cmdable
	logger *logrus.Logger
	now    func() time.Time
}

func NewSessionRepository(client redis.Cmdable, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("refresh:%s:%s", userID, sessionID)
}

func (r *SessionRepository) ttl(expiresAt time.Time) (time.Duration, error) {
	ttl := expiresAt.Sub(r.now())
	if ttl < time.Millisecond {
		return 0, fmt.Errorf("refresh token already expired at %s", expiresAt.Format(time.RFC3339))
	}
	return ttl, nil
}

func (r *SessionRepository) PersistRefreshToken(ctx context.Context, userID, sessionID, token string, expiresAt time.Time) error {
	ttl, err := r.ttl(expiresAt)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, sessionKey(userID, sessionID), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (r *SessionRepository) RotateRefreshToken(ctx context.Context, userID, sessionID, presented, next string, expiresAt time.Time) error {
	ttl, err := r.ttl(expiresAt)
	if err != nil {
		return err
	}

	status, err := rotateScript.Run(ctx, r.client, []string{sessionKey(userID, sessionID)}, presented, next, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	if status != 1 {
		r.logger.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": sessionID,
			"slot_found": status == -1,
		}).Debug("Refresh token condition failed")
		return ErrRefreshTokenMismatch
	}

	return nil
}

// ClearRefreshToken deletes the slot. Deleting a missing slot succeeds.
func (r *SessionRepository) ClearRefreshToken(ctx context.Context, userID, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}
