package service

import (
	"go.uber.org/zap"

	"agri-auth/internal/audit"
	"agri-auth/internal/config"
	"agri-auth/internal/encryption"
	"agri-auth/internal/hashing"
	"agri-auth/internal/model"
	"agri-auth/internal/provider"
)

// ServiceFactory creates and memoizes service instances
type ServiceFactory struct {
	otpStore      model.OTPStore
	flowStore     model.FlowStore
	farmers       model.FarmerRepository
	sessionCache  model.SessionCache
	sessionRepo   model.SessionRepository
	rateLimits    model.RateLimitStore
	otpSender     provider.OTPProvider
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	audit         *audit.Publisher
	config        *config.Config
	logger        *zap.Logger

	sessionService *SessionService
	rateLimiter    *RateLimiter
	authService    *AuthService
}

func NewServiceFactory(
	otpStore model.OTPStore,
	flowStore model.FlowStore,
	farmers model.FarmerRepository,
	sessionCache model.SessionCache,
	sessionRepo model.SessionRepository,
	rateLimits model.RateLimitStore,
	otpSender provider.OTPProvider,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	auditPublisher *audit.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		otpStore:      otpStore,
		flowStore:     flowStore,
		farmers:       farmers,
		sessionCache:  sessionCache,
		sessionRepo:   sessionRepo,
		rateLimits:    rateLimits,
		otpSender:     otpSender,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		audit:         auditPublisher,
		config:        cfg,
		logger:        logger,
	}
}

// SessionService returns the session service instance (singleton)
func (f *ServiceFactory) SessionService() *SessionService {
	if f.sessionService == nil {
		f.sessionService = NewSessionService(f.sessionCache, f.sessionRepo, f.config, f.logger)
	}
	return f.sessionService
}

// RateLimiter returns the rate limiter instance (singleton)
func (f *ServiceFactory) RateLimiter() *RateLimiter {
	if f.rateLimiter == nil {
		f.rateLimiter = NewRateLimiter(f.rateLimits, f.config, f.logger)
	}
	return f.rateLimiter
}

// AuthService returns the auth orchestrator instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.otpStore,
			f.flowStore,
			f.farmers,
			f.SessionService(),
			f.RateLimiter(),
			f.otpSender,
			f.hasher,
			f.encryptionMgr,
			f.audit,
			f.config,
			f.logger,
		)
	}
	return f.authService
}
