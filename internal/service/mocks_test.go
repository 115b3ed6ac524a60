package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/encryption"
	"agri-auth/internal/hashing"
	"agri-auth/internal/model"
	"agri-auth/internal/provider"
)

// testConfig returns a config with cheap argon2 parameters and the
// production flow constants.
func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		OTP: config.OTPConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			CodeLength:  6,
		},
		Session: config.SessionConfig{
			TTL:          168 * time.Hour,
			CookieName:   "agri_session",
			CookieSecure: true,
		},
		RateLimit: config.RateLimitConfig{
			Window:      15 * time.Minute,
			MaxRequests: 10,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{
			FarmerBuckets: 16,
			EventBuckets:  8,
		},
	}
}

// ---------- OTP store ----------

type memOTPRecord struct {
	session  model.OTPSession
	attempts int
}

type memOTPStore struct {
	mu      sync.Mutex
	records map[string]*memOTPRecord
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{records: make(map[string]*memOTPRecord)}
}

func (s *memOTPStore) Create(ctx context.Context, session *model.OTPSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[session.PhoneNumber] = &memOTPRecord{session: *session}
	return nil
}

func (s *memOTPStore) RecordAttempt(ctx context.Context, phoneNumber string) (*model.OTPSession, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phoneNumber]
	if !ok {
		return nil, 0, autherr.New(autherr.CodeOTPExpired, "no active OTP for phone")
	}
	rec.attempts++
	copied := rec.session
	return &copied, rec.attempts, nil
}

func (s *memOTPStore) Consume(ctx context.Context, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phoneNumber)
	return nil
}

func (s *memOTPStore) Invalidate(ctx context.Context, phoneNumber string) error {
	return s.Consume(ctx, phoneNumber)
}

func (s *memOTPStore) Get(ctx context.Context, phoneNumber string) (*model.OTPSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phoneNumber]
	if !ok {
		return nil, autherr.New(autherr.CodeOTPExpired, "no active OTP for phone")
	}
	copied := rec.session
	return &copied, nil
}

// expire backdates the stored record so lazy expiry checks trip.
func (s *memOTPStore) expire(phoneNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[phoneNumber]; ok {
		rec.session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

// ---------- Flow store ----------

type memFlowStore struct {
	mu     sync.Mutex
	states map[string]string
}

func newMemFlowStore() *memFlowStore {
	return &memFlowStore{states: make(map[string]string)}
}

func (s *memFlowStore) GetState(ctx context.Context, phoneNumber string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[phoneNumber], nil
}

func (s *memFlowStore) SetState(ctx context.Context, phoneNumber, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[phoneNumber] = state
	return nil
}

func (s *memFlowStore) ClearState(ctx context.Context, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, phoneNumber)
	return nil
}

// ---------- Farmer repository ----------

type memFarmerRepo struct {
	mu          sync.Mutex
	byID        map[string]*model.Farmer
	byPhoneHash map[string]*model.Farmer
}

func newMemFarmerRepo() *memFarmerRepo {
	return &memFarmerRepo{
		byID:        make(map[string]*model.Farmer),
		byPhoneHash: make(map[string]*model.Farmer),
	}
}

func (r *memFarmerRepo) CreateFarmer(ctx context.Context, farmer *model.Farmer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *farmer
	r.byID[farmer.FarmerID] = &copied
	r.byPhoneHash[farmer.PhoneHash] = &copied
	return nil
}

func (r *memFarmerRepo) GetFarmerByID(ctx context.Context, farmerID string) (*model.Farmer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	farmer, ok := r.byID[farmerID]
	if !ok {
		return nil, autherr.New(autherr.CodeUserNotFound, "farmer not found")
	}
	copied := *farmer
	return &copied, nil
}

func (r *memFarmerRepo) GetFarmerByPhoneHash(ctx context.Context, phoneHash string) (*model.Farmer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	farmer, ok := r.byPhoneHash[phoneHash]
	if !ok {
		return nil, autherr.New(autherr.CodeUserNotFound, "farmer not found")
	}
	copied := *farmer
	return &copied, nil
}

func (r *memFarmerRepo) UpdateLastLogin(ctx context.Context, farmerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if farmer, ok := r.byID[farmerID]; ok {
		farmer.LastLoginAt = &at
	}
	return nil
}

func (r *memFarmerRepo) UpdateProfile(ctx context.Context, farmer *model.Farmer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[farmer.FarmerID]
	if !ok {
		return autherr.New(autherr.CodeUserNotFound, "farmer not found")
	}
	now := time.Now().UTC()
	stored.Name = farmer.Name
	stored.District = farmer.District
	stored.Crops = farmer.Crops
	stored.UpdatedAt = &now
	farmer.UpdatedAt = &now
	return nil
}

func (r *memFarmerRepo) HealthCheck(ctx context.Context) error { return nil }

// ---------- Session cache ----------

type memSessionCache struct {
	mu       sync.Mutex
	sessions map[string]*model.AuthSession
	putErr   error
	getErr   error
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{sessions: make(map[string]*model.AuthSession)}
}

func (c *memSessionCache) PutSession(ctx context.Context, tokenHash string, session *model.AuthSession, ttl time.Duration) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *session
	c.sessions[tokenHash] = &copied
	return nil
}

func (c *memSessionCache) GetSession(ctx context.Context, tokenHash string) (*model.AuthSession, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[tokenHash]
	if !ok {
		return nil, autherr.New(autherr.CodeInvalidSession, "session not found")
	}
	copied := *session
	return &copied, nil
}

func (c *memSessionCache) DropSession(ctx context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, tokenHash)
	return nil
}

func (c *memSessionCache) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.sessions[tokenHash]; ok {
		session.LastAccessedAt = at
	}
	return nil
}

func (c *memSessionCache) drop(tokenHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, tokenHash)
}

// ---------- Session repository ----------

type memSessionRepo struct {
	mu          sync.Mutex
	byTokenHash map[string]*model.AuthSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byTokenHash: make(map[string]*model.AuthSession)}
}

func (r *memSessionRepo) CreateSession(ctx context.Context, session *model.AuthSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.byTokenHash[session.TokenHash] = &copied
	return nil
}

func (r *memSessionRepo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*model.AuthSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.byTokenHash[tokenHash]
	if !ok {
		return nil, autherr.New(autherr.CodeInvalidSession, "session not found")
	}
	copied := *session
	return &copied, nil
}

func (r *memSessionRepo) TouchSession(ctx context.Context, farmerID, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.byTokenHash {
		if session.FarmerID == farmerID && session.SessionID == sessionID {
			session.LastAccessedAt = at
		}
	}
	return nil
}

func (r *memSessionRepo) RevokeSession(ctx context.Context, farmerID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.byTokenHash {
		if session.FarmerID == farmerID && session.SessionID == sessionID {
			session.IsActive = false
		}
	}
	return nil
}

func (r *memSessionRepo) ListFarmerSessions(ctx context.Context, farmerID string) ([]*model.AuthSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuthSession
	for _, session := range r.byTokenHash {
		if session.FarmerID == farmerID {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memSessionRepo) RevokeAllFarmerSessions(ctx context.Context, farmerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.byTokenHash {
		if session.FarmerID == farmerID {
			session.IsActive = false
		}
	}
	return nil
}

// expire backdates a durable session so lazy expiry checks trip.
func (r *memSessionRepo) expire(tokenHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.byTokenHash[tokenHash]; ok {
		session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}
}

// ---------- Rate limit store ----------

type rateWindow struct {
	count   int64
	startAt time.Time
}

// memRateLimitStore mirrors the Lua counter's fixed-window semantics: the
// window anchors at the first increment and the count resets once it elapses.
type memRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
	err     error
}

func newMemRateLimitStore() *memRateLimitStore {
	return &memRateLimitStore{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

func (s *memRateLimitStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.startAt) >= window {
		w = &rateWindow{startAt: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, window - now.Sub(w.startAt), nil
}

func (s *memRateLimitStore) ResetWindow(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// advance shifts the fake clock forward by d.
func (s *memRateLimitStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.now
	s.now = func() time.Time { return base().Add(d) }
}

// ---------- Provider ----------

type fakeProvider struct {
	mu           sync.Mutex
	remoteVerify bool
	sendErr      error
	lastCode     string
	sendCount    int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SendOTP(ctx context.Context, phoneNumber, code string) (*provider.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	p.lastCode = code
	p.sendCount++
	return &provider.SendResult{VerificationID: "ver-1", RemoteVerify: p.remoteVerify}, nil
}

func (p *fakeProvider) VerifyOTP(ctx context.Context, verificationID, code string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return code == p.lastCode, nil
}

func (p *fakeProvider) code() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCode
}

// ---------- Harness ----------

type authFixture struct {
	auth     *AuthService
	sessions *SessionService
	otps     *memOTPStore
	flows    *memFlowStore
	farmers  *memFarmerRepo
	cache    *memSessionCache
	repo     *memSessionRepo
	limits   *memRateLimitStore
	sender   *fakeProvider
	cfg      *config.Config
}

func newAuthFixture() *authFixture {
	cfg := testConfig()
	logger := zap.NewNop()

	f := &authFixture{
		otps:    newMemOTPStore(),
		flows:   newMemFlowStore(),
		farmers: newMemFarmerRepo(),
		cache:   newMemSessionCache(),
		repo:    newMemSessionRepo(),
		limits:  newMemRateLimitStore(),
		sender:  &fakeProvider{},
		cfg:     cfg,
	}

	f.sessions = NewSessionService(f.cache, f.repo, cfg, logger)
	limiter := NewRateLimiter(f.limits, cfg, logger)
	f.auth = NewAuthService(
		f.otps,
		f.flows,
		f.farmers,
		f.sessions,
		limiter,
		f.sender,
		hashing.NewHasher(cfg),
		encryption.NewEncryptionManager(cfg, nil),
		nil, // no audit sinks under test
		cfg,
		logger,
	)
	return f
}
