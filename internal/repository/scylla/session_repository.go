package scylla

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/model"
	"agri-auth/internal/util"
)

// SessionRepository is the durable record of auth sessions. The Redis session
// cache fronts it on the hot path; this table is the source of truth for
// revocation and for rebuilding the cache.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *model.AuthSession) error {
	// auth_sessions row plus the token lookup row in one logged batch
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
        INSERT INTO auth_sessions (
            farmer_id, session_id, token_hash, device_info, ip_address,
            is_active, created_at, last_accessed_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.FarmerID, session.SessionID, session.TokenHash,
		session.DeviceInfo, session.IPAddress, session.IsActive,
		session.CreatedAt, session.LastAccessedAt, session.ExpiresAt)
	batch.Query(`
        INSERT INTO sessions_by_token (
            token_hash, farmer_id, session_id, device_info, ip_address,
            is_active, created_at, last_accessed_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.TokenHash, session.FarmerID, session.SessionID,
		session.DeviceInfo, session.IPAddress, session.IsActive,
		session.CreatedAt, session.LastAccessedAt, session.ExpiresAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create session",
			zap.String("session_id", session.SessionID),
			zap.String("farmer_id", session.FarmerID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to create session", err)
	}

	util.Info("Session created",
		zap.String("session_id", session.SessionID),
		zap.String("farmer_id", session.FarmerID),
		zap.Time("expires_at", session.ExpiresAt))

	return nil
}

func (r *SessionRepository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*model.AuthSession, error) {
	session := &model.AuthSession{TokenHash: tokenHash}

	query := r.client.Prepared.GetSessionByToken.Bind(tokenHash).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&session.FarmerID, &session.SessionID, &session.DeviceInfo,
		&session.IPAddress, &session.IsActive, &session.CreatedAt,
		&session.LastAccessedAt, &session.ExpiresAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, autherr.New(autherr.CodeInvalidSession, "session not found")
		}
		util.Error("Failed to get session by token", zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to get session", err)
	}

	return session, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, farmerID, sessionID string, at time.Time) error {
	query := r.client.Prepared.TouchSession.Bind(at, farmerID, sessionID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to touch session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to touch session", err)
	}
	return nil
}

func (r *SessionRepository) RevokeSession(ctx context.Context, farmerID, sessionID string) error {
	// Both the per-farmer row and the token lookup row must flip, or a
	// revoked session would come back alive through the token lookup after
	// a cache eviction.
	var tokenHash string
	lookup := r.client.Prepared.GetSessionTokenHash.Bind(farmerID, sessionID).WithContext(ctx)
	if err := r.client.ScanWithRetry(lookup, &tokenHash); err != nil {
		if err == gocql.ErrNotFound {
			return nil
		}
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to resolve session", err)
	}

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
        UPDATE auth_sessions SET is_active = false
        WHERE farmer_id = ? AND session_id = ?`, farmerID, sessionID)
	batch.Query(`
        UPDATE sessions_by_token SET is_active = false
        WHERE token_hash = ?`, tokenHash)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to revoke session",
			zap.String("session_id", sessionID),
			zap.String("farmer_id", farmerID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to revoke session", err)
	}

	util.Info("Session revoked",
		zap.String("session_id", sessionID),
		zap.String("farmer_id", farmerID))

	return nil
}

func (r *SessionRepository) ListFarmerSessions(ctx context.Context, farmerID string) ([]*model.AuthSession, error) {
	query := r.client.Prepared.ListFarmerSessions.Bind(farmerID).WithContext(ctx)
	iter := query.Iter()

	var sessions []*model.AuthSession
	for {
		session := &model.AuthSession{}
		if !iter.Scan(&session.FarmerID, &session.SessionID, &session.TokenHash,
			&session.DeviceInfo, &session.IPAddress, &session.IsActive,
			&session.CreatedAt, &session.LastAccessedAt, &session.ExpiresAt) {
			break
		}
		sessions = append(sessions, session)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list farmer sessions",
			zap.String("farmer_id", farmerID),
			zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to list sessions", err)
	}

	return sessions, nil
}

func (r *SessionRepository) RevokeAllFarmerSessions(ctx context.Context, farmerID string) error {
	sessions, err := r.ListFarmerSessions(ctx, farmerID)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if !session.IsActive {
			continue
		}
		if err := r.RevokeSession(ctx, farmerID, session.SessionID); err != nil {
			return err
		}
	}

	return nil
}
