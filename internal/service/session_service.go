package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/model"
)

// IssuedSession carries the raw token back to the handler exactly once; only
// its hash is ever stored.
type IssuedSession struct {
	Token   string
	Session *model.AuthSession
}

// SessionService issues opaque bearer tokens, validates them cache-first with
// a durable fallback, and revokes them idempotently.
type SessionService struct {
	cache    model.SessionCache
	sessions model.SessionRepository
	config   *config.Config
	logger   *zap.Logger
}

func NewSessionService(cache model.SessionCache, sessions model.SessionRepository, cfg *config.Config, logger *zap.Logger) *SessionService {
	return &SessionService{
		cache:    cache,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
	}
}

// HashToken derives the storage key for a token. sha256 is enough here: the
// token itself carries 256 bits of entropy, so no salt or stretching applies.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", autherr.Wrap(autherr.CodeStoreUnavailable, "failed to generate session token", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issue creates a session for the farmer: durable record first, then the hot
// cache entry with the token-hash key.
func (s *SessionService) Issue(ctx context.Context, farmerID, deviceInfo, ipAddress string) (*IssuedSession, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &model.AuthSession{
		SessionID:      uuid.New().String(),
		FarmerID:       farmerID,
		TokenHash:      HashToken(token),
		DeviceInfo:     deviceInfo,
		IPAddress:      ipAddress,
		IsActive:       true,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(s.config.Session.TTL),
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.cache.PutSession(ctx, session.TokenHash, session, s.config.Session.TTL); err != nil {
		// The durable record exists; validation falls back to it.
		s.logger.Warn("session not cached",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	return &IssuedSession{Token: token, Session: session}, nil
}

// Validate resolves a token to its active session. Expiry is checked lazily
// here; nothing sweeps expired records.
func (s *SessionService) Validate(ctx context.Context, token string) (*model.AuthSession, error) {
	if token == "" {
		return nil, autherr.New(autherr.CodeInvalidSession, "missing session token")
	}

	tokenHash := HashToken(token)
	now := time.Now().UTC()

	session, err := s.cache.GetSession(ctx, tokenHash)
	if err != nil {
		if autherr.CodeOf(err) != autherr.CodeInvalidSession {
			return nil, err
		}
		// Cache miss: fall back to the durable record and repopulate.
		session, err = s.sessions.GetSessionByTokenHash(ctx, tokenHash)
		if err != nil {
			return nil, err
		}
		if remaining := session.ExpiresAt.Sub(now); remaining > 0 && session.IsActive {
			if cacheErr := s.cache.PutSession(ctx, tokenHash, session, remaining); cacheErr != nil {
				s.logger.Warn("session cache repopulation failed", zap.Error(cacheErr))
			}
		}
	}

	if !session.IsActive {
		return nil, autherr.New(autherr.CodeInvalidSession, "session revoked")
	}
	if now.After(session.ExpiresAt) {
		return nil, autherr.New(autherr.CodeSessionExpired, "session expired")
	}

	session.LastAccessedAt = now
	if err := s.sessions.TouchSession(ctx, session.FarmerID, session.SessionID, now); err != nil {
		s.logger.Warn("session touch failed",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	if s.config.Session.SlidingExpiry {
		session.ExpiresAt = now.Add(s.config.Session.TTL)
		if err := s.cache.PutSession(ctx, tokenHash, session, s.config.Session.TTL); err != nil {
			s.logger.Warn("sliding expiry refresh failed", zap.Error(err))
		}
	} else if err := s.cache.TouchSession(ctx, tokenHash, now); err != nil {
		s.logger.Warn("session cache touch failed", zap.Error(err))
	}

	return session, nil
}

// Revoke deactivates the session behind a token. Revoking an unknown or
// already-revoked token is not an error.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	tokenHash := HashToken(token)

	session, err := s.cache.GetSession(ctx, tokenHash)
	if err != nil {
		if autherr.CodeOf(err) != autherr.CodeInvalidSession {
			return err
		}
		session, err = s.sessions.GetSessionByTokenHash(ctx, tokenHash)
		if err != nil {
			if autherr.CodeOf(err) == autherr.CodeInvalidSession {
				return nil
			}
			return err
		}
	}

	if err := s.sessions.RevokeSession(ctx, session.FarmerID, session.SessionID); err != nil {
		return err
	}
	if err := s.cache.DropSession(ctx, tokenHash); err != nil {
		s.logger.Warn("session cache drop failed",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	return nil
}

// RevokeAll deactivates every session a farmer holds, across devices.
func (s *SessionService) RevokeAll(ctx context.Context, farmerID string) error {
	sessions, err := s.sessions.ListFarmerSessions(ctx, farmerID)
	if err != nil {
		return err
	}

	if err := s.sessions.RevokeAllFarmerSessions(ctx, farmerID); err != nil {
		return err
	}

	for _, session := range sessions {
		if err := s.cache.DropSession(ctx, session.TokenHash); err != nil {
			s.logger.Warn("session cache drop failed during revoke-all",
				zap.String("session_id", session.SessionID),
				zap.Error(err))
		}
	}

	return nil
}
