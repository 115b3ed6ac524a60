package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"agri-auth/internal/config"
	"agri-auth/internal/util"
)

// PreparedStatements holds the read and update statements used by the
// repositories. Multi-table writes run as logged batches instead.
type PreparedStatements struct {
	GetFarmerByPhone    *gocql.Query
	GetFarmerByID       *gocql.Query
	UpdateProfile       *gocql.Query
	UpdateLastLogin     *gocql.Query
	GetSessionByToken   *gocql.Query
	GetSessionTokenHash *gocql.Query
	TouchSession        *gocql.Query
	ListFarmerSessions  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.GetFarmerByID = s.Session.Query(`
        SELECT farmer_bucket, farmer_id, phone_hash, phone_encrypted, phone_key_id,
            name, district, crops, is_verified, created_at, updated_at, last_login_at
        FROM farmers WHERE farmer_bucket = ? AND farmer_id = ?`)

	prepared.GetFarmerByPhone = s.Session.Query(`
        SELECT farmer_bucket, farmer_id FROM phone_to_farmer WHERE phone_hash = ?`)

	prepared.UpdateProfile = s.Session.Query(`
        UPDATE farmers SET name = ?, district = ?, crops = ?, updated_at = ?
        WHERE farmer_bucket = ? AND farmer_id = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
        UPDATE farmers SET last_login_at = ? WHERE farmer_bucket = ? AND farmer_id = ?`)

	prepared.GetSessionByToken = s.Session.Query(`
        SELECT farmer_id, session_id, device_info, ip_address,
            is_active, created_at, last_accessed_at, expires_at
        FROM sessions_by_token WHERE token_hash = ?`)

	prepared.GetSessionTokenHash = s.Session.Query(`
        SELECT token_hash FROM auth_sessions WHERE farmer_id = ? AND session_id = ?`)

	prepared.TouchSession = s.Session.Query(`
        UPDATE auth_sessions SET last_accessed_at = ?
        WHERE farmer_id = ? AND session_id = ?`)

	prepared.ListFarmerSessions = s.Session.Query(`
        SELECT farmer_id, session_id, token_hash, device_info, ip_address,
            is_active, created_at, last_accessed_at, expires_at
        FROM auth_sessions WHERE farmer_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
