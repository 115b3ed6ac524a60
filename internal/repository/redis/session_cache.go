package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/client"
	"agri-auth/internal/model"
	"agri-auth/internal/util"
)

const (
	sessionPrefix    = "session:"
	sessionOpTimeout = 5 * time.Second
)

// SessionCache is the hot-path token lookup. Keys are token hashes, values
// the JSON session record; the key TTL mirrors the session expiry so stale
// entries vanish on their own.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(redisClient *client.RedisClient) *SessionCache {
	return &SessionCache{client: redisClient}
}

func (c *SessionCache) PutSession(ctx context.Context, tokenHash string, session *model.AuthSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, sessionOpTimeout)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to encode session", err)
	}

	key := sessionPrefix + tokenHash
	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		util.Error("Failed to cache session",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to cache session", err)
	}

	util.Debug("Session cached",
		zap.String("session_id", session.SessionID),
		zap.Duration("ttl", ttl))

	return nil
}

func (c *SessionCache) GetSession(ctx context.Context, tokenHash string) (*model.AuthSession, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionOpTimeout)
	defer cancel()

	key := sessionPrefix + tokenHash

	data, err := c.client.Client.Get(ctx, key).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, autherr.New(autherr.CodeInvalidSession, "session not found")
		}
		util.Error("Failed to read session cache", zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to read session cache", err)
	}

	var session model.AuthSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "corrupt session record", err)
	}

	return &session, nil
}

func (c *SessionCache) DropSession(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, sessionOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, sessionPrefix+tokenHash); err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to drop session", err)
	}
	return nil
}

// TouchSession updates the last-access timestamp in place without moving the
// key's expiry. Sliding expiry, when enabled, is applied by the caller via a
// fresh PutSession.
func (c *SessionCache) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, sessionOpTimeout)
	defer cancel()

	session, err := c.GetSession(ctx, tokenHash)
	if err != nil {
		return err
	}

	session.LastAccessedAt = at

	data, err := json.Marshal(session)
	if err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to encode session", err)
	}

	key := sessionPrefix + tokenHash
	ttl, err := c.client.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return autherr.New(autherr.CodeSessionExpired, "session already expired")
	}

	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to touch session", err)
	}
	return nil
}
