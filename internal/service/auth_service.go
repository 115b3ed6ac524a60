package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agri-auth/internal/audit"
	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/encryption"
	"agri-auth/internal/hashing"
	"agri-auth/internal/model"
	"agri-auth/internal/provider"
	"agri-auth/internal/util"
)

// CheckNumberResult tells the client whether to run the login or signup leg.
type CheckNumberResult struct {
	Exists   bool   `json:"exists"`
	NextStep string `json:"next_step"` // "login" | "signup"
}

// SendOTPResult is returned after a successful dispatch.
type SendOTPResult struct {
	VerificationID string    `json:"verification_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerifyOTPResult reports the outcome of a correct code: either a session for
// an existing farmer, or the go-ahead to sign up.
type VerifyOTPResult struct {
	IsNewUser bool
	Farmer    *model.Farmer
	Session   *IssuedSession
}

// ProfileUpdateRequest carries the editable profile fields. Empty fields are
// left untouched.
type ProfileUpdateRequest struct {
	Name     string   `json:"name"`
	District string   `json:"district"`
	Crops    []string `json:"crops"`
}

// SignupRequest carries the profile fields gathered during signup.
type SignupRequest struct {
	PhoneNumber string   `json:"phone_number"`
	Name        string   `json:"name"`
	District    string   `json:"district"`
	Crops       []string `json:"crops"`
	DeviceInfo  string   `json:"-"`
	IPAddress   string   `json:"-"`
}

// AuthService orchestrates the check-number / send-OTP / verify-OTP / signup /
// logout flow. It owns no state itself; every step reads and advances the
// persisted flow state.
type AuthService struct {
	otpStore   model.OTPStore
	flowStore  model.FlowStore
	farmers    model.FarmerRepository
	sessions   *SessionService
	limiter    *RateLimiter
	otpSender  provider.OTPProvider
	hasher     *hashing.Hasher
	encryption *encryption.EncryptionManager
	audit      *audit.Publisher
	config     *config.Config
	logger     *zap.Logger
}

func NewAuthService(
	otpStore model.OTPStore,
	flowStore model.FlowStore,
	farmers model.FarmerRepository,
	sessions *SessionService,
	limiter *RateLimiter,
	otpSender provider.OTPProvider,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	auditPublisher *audit.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		otpStore:   otpStore,
		flowStore:  flowStore,
		farmers:    farmers,
		sessions:   sessions,
		limiter:    limiter,
		otpSender:  otpSender,
		hasher:     hasher,
		encryption: encryptionMgr,
		audit:      auditPublisher,
		config:     cfg,
		logger:     logger,
	}
}

// PhoneHash derives the lookup key for a normalized phone number.
func PhoneHash(phoneNumber string) string {
	sum := sha256.Sum256([]byte(phoneNumber))
	return hex.EncodeToString(sum[:])
}

// CheckNumber reports whether a farmer account exists for the phone.
func (s *AuthService) CheckNumber(ctx context.Context, rawPhone string) (*CheckNumberResult, error) {
	phone, err := util.NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	_, err = s.farmers.GetFarmerByPhoneHash(ctx, PhoneHash(phone))
	if err != nil {
		if autherr.CodeOf(err) == autherr.CodeUserNotFound {
			return &CheckNumberResult{Exists: false, NextStep: "signup"}, nil
		}
		return nil, err
	}

	return &CheckNumberResult{Exists: true, NextStep: "login"}, nil
}

// SendOTP generates a code, dispatches it through the configured provider and
// stores the peppered hash. A prior active OTP for the phone is superseded.
func (s *AuthService) SendOTP(ctx context.Context, rawPhone, ipAddress string) (*SendOTPResult, error) {
	phone, err := util.NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Allow(ctx, "otp:"+phone); err != nil {
		if autherr.CodeOf(err) == autherr.CodeRateLimitExceeded {
			s.publish(audit.RateLimited(PhoneHash(phone), ipAddress))
		}
		return nil, err
	}

	state, err := s.currentFlowState(ctx, phone)
	if err != nil {
		return nil, err
	}
	if _, err := Advance(state, FlowOTPPending); err != nil {
		return nil, err
	}

	code, err := generateCode(s.config.OTP.CodeLength)
	if err != nil {
		return nil, err
	}

	sent, err := s.otpSender.SendOTP(ctx, phone, code)
	if err != nil {
		return nil, err
	}

	hashResult, err := s.hasher.HashOTP(code)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeOTPSendFailed, "failed to hash code", err)
	}

	now := time.Now().UTC()
	session := &model.OTPSession{
		OTPID:          uuid.New().String(),
		PhoneNumber:    phone,
		OTPHash:        hashResult.Hash,
		OTPSalt:        hashResult.Salt,
		PepperVersion:  hashResult.PepperVersion,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.config.OTP.TTL),
		Provider:       s.otpSender.Name(),
		VerificationID: sent.VerificationID,
		RemoteVerify:   sent.RemoteVerify,
	}

	if err := s.otpStore.Create(ctx, session, s.config.OTP.TTL); err != nil {
		return nil, err
	}

	if err := s.setFlowState(ctx, phone, FlowOTPPending); err != nil {
		return nil, err
	}

	s.publish(audit.OTPSent(PhoneHash(phone), s.otpSender.Name(), ipAddress))

	s.logger.Info("OTP sent",
		zap.String("phone", util.MaskPhone(phone)),
		zap.String("provider", s.otpSender.Name()),
		zap.Time("expires_at", session.ExpiresAt))

	return &SendOTPResult{
		VerificationID: sent.VerificationID,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// VerifyOTP burns one attempt against the phone's active OTP. On a match the
// record is consumed (single use) and either a session is issued (existing
// farmer) or the flow parks in signup_pending (new farmer).
func (s *AuthService) VerifyOTP(ctx context.Context, rawPhone, code, ipAddress, deviceInfo string) (*VerifyOTPResult, error) {
	phone, err := util.NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	otp, attempts, err := s.otpStore.RecordAttempt(ctx, phone)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	phoneHash := PhoneHash(phone)

	if now.After(otp.ExpiresAt) {
		_ = s.otpStore.Invalidate(ctx, phone)
		s.publish(audit.OTPVerified(phoneHash, "", model.AttemptExpired.String()))
		return nil, autherr.New(autherr.CodeOTPExpired, "OTP has expired")
	}

	if attempts > s.config.OTP.MaxAttempts {
		_ = s.otpStore.Invalidate(ctx, phone)
		s.publish(audit.OTPVerified(phoneHash, "", model.AttemptMaxExceeded.String()))
		return nil, autherr.New(autherr.CodeMaxAttemptsExceeded, "maximum verification attempts exceeded")
	}

	matched, err := s.compareCode(ctx, otp, code)
	if err != nil {
		return nil, err
	}
	if !matched {
		s.publish(audit.OTPVerified(phoneHash, "", model.AttemptMismatched.String()))
		return nil, autherr.New(autherr.CodeInvalidOTP, "incorrect OTP")
	}

	// Single use: the record is gone before anything else can happen.
	if err := s.otpStore.Consume(ctx, phone); err != nil {
		return nil, err
	}

	farmer, err := s.farmers.GetFarmerByPhoneHash(ctx, phoneHash)
	if err != nil {
		if autherr.CodeOf(err) != autherr.CodeUserNotFound {
			return nil, err
		}
		// New farmer: park in signup_pending until the profile arrives.
		if err := s.setFlowState(ctx, phone, FlowSignupPending); err != nil {
			return nil, err
		}
		s.publish(audit.OTPVerified(phoneHash, "", model.AttemptMatched.String()))
		return &VerifyOTPResult{IsNewUser: true}, nil
	}

	issued, err := s.sessions.Issue(ctx, farmer.FarmerID, deviceInfo, ipAddress)
	if err != nil {
		return nil, err
	}

	if err := s.farmers.UpdateLastLogin(ctx, farmer.FarmerID, now); err != nil {
		s.logger.Warn("last login not updated",
			zap.String("farmer_id", farmer.FarmerID),
			zap.Error(err))
	}

	if err := s.flowStore.ClearState(ctx, phone); err != nil {
		s.logger.Warn("flow state not cleared", zap.Error(err))
	}

	s.publish(audit.OTPVerified(phoneHash, farmer.FarmerID, model.AttemptMatched.String()))
	s.publish(audit.LoginSucceeded(phoneHash, farmer.FarmerID, ipAddress, deviceInfo))

	return &VerifyOTPResult{
		IsNewUser: false,
		Farmer:    farmer,
		Session:   issued,
	}, nil
}

// CompleteSignup creates the farmer record and issues the first session. Only
// legal from signup_pending, i.e. right after a new number verified its OTP.
func (s *AuthService) CompleteSignup(ctx context.Context, req *SignupRequest) (*VerifyOTPResult, error) {
	phone, err := util.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	state, err := s.currentFlowState(ctx, phone)
	if err != nil {
		return nil, err
	}
	if state != FlowSignupPending {
		return nil, autherr.New(autherr.CodeInvalidSession, "phone number not verified for signup")
	}

	phoneHash := PhoneHash(phone)

	if _, err := s.farmers.GetFarmerByPhoneHash(ctx, phoneHash); err == nil {
		return nil, autherr.New(autherr.CodeUserAlreadyExists, "account already exists for this phone")
	} else if autherr.CodeOf(err) != autherr.CodeUserNotFound {
		return nil, err
	}

	encrypted, err := s.encryption.EncryptField(ctx, phone, "phone")
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to encrypt phone", err)
	}

	now := time.Now().UTC()
	farmer := &model.Farmer{
		FarmerID:       uuid.New().String(),
		PhoneHash:      phoneHash,
		PhoneEncrypted: []byte(encrypted.EncryptedValue + "." + encrypted.EncryptedDEK),
		PhoneKeyID:     encrypted.KeyID,
		Name:           req.Name,
		District:       req.District,
		Crops:          req.Crops,
		IsVerified:     true,
		CreatedAt:      now,
	}

	if err := s.farmers.CreateFarmer(ctx, farmer); err != nil {
		return nil, err
	}

	issued, err := s.sessions.Issue(ctx, farmer.FarmerID, req.DeviceInfo, req.IPAddress)
	if err != nil {
		return nil, err
	}

	if err := s.flowStore.ClearState(ctx, phone); err != nil {
		s.logger.Warn("flow state not cleared", zap.Error(err))
	}

	s.publish(audit.SignupCompleted(phoneHash, farmer.FarmerID))

	s.logger.Info("Signup completed",
		zap.String("farmer_id", farmer.FarmerID),
		zap.String("district", farmer.District))

	return &VerifyOTPResult{
		IsNewUser: true,
		Farmer:    farmer,
		Session:   issued,
	}, nil
}

// Logout revokes the session behind the token. Unknown tokens are a no-op;
// logout never fails from the caller's point of view unless the store is down.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		code := autherr.CodeOf(err)
		if code == autherr.CodeInvalidSession || code == autherr.CodeSessionExpired {
			return nil
		}
		return err
	}

	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}

	s.publish(audit.LoggedOut(session.FarmerID))
	return nil
}

// UpdateProfile applies the editable profile fields to the farmer behind the
// session token.
func (s *AuthService) UpdateProfile(ctx context.Context, token string, req *ProfileUpdateRequest) (*model.Farmer, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	farmer, err := s.farmers.GetFarmerByID(ctx, session.FarmerID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		farmer.Name = req.Name
	}
	if req.District != "" {
		farmer.District = req.District
	}
	if req.Crops != nil {
		farmer.Crops = req.Crops
	}

	if err := s.farmers.UpdateProfile(ctx, farmer); err != nil {
		return nil, err
	}

	s.publish(audit.ProfileUpdated(farmer.FarmerID))

	return farmer, nil
}

// Session validates the cookie token and resolves the farmer behind it.
func (s *AuthService) Session(ctx context.Context, token string) (*model.Farmer, *model.AuthSession, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	farmer, err := s.farmers.GetFarmerByID(ctx, session.FarmerID)
	if err != nil {
		return nil, nil, err
	}

	return farmer, session, nil
}

func (s *AuthService) compareCode(ctx context.Context, otp *model.OTPSession, code string) (bool, error) {
	if otp.RemoteVerify {
		ok, err := s.otpSender.VerifyOTP(ctx, otp.VerificationID, code)
		if err != nil {
			return false, err
		}
		return ok, nil
	}

	return s.hasher.VerifyOTP(code, &hashing.HashResult{
		Hash:          otp.OTPHash,
		Salt:          otp.OTPSalt,
		PepperVersion: otp.PepperVersion,
		Algorithm:     "argon2id-v1",
	})
}

func (s *AuthService) currentFlowState(ctx context.Context, phone string) (FlowState, error) {
	raw, err := s.flowStore.GetState(ctx, phone)
	if err != nil {
		return FlowStart, err
	}
	if raw == "" {
		return FlowStart, nil
	}
	return FlowState(raw), nil
}

func (s *AuthService) setFlowState(ctx context.Context, phone string, state FlowState) error {
	// Flow state outlives the OTP so signup can finish after code expiry,
	// but not indefinitely.
	ttl := s.config.OTP.TTL * 6
	return s.flowStore.SetState(ctx, phone, string(state), ttl)
}

func (s *AuthService) publish(event *model.AuthEvent) {
	if s.audit == nil {
		return
	}
	s.audit.PublishAsync(event)
}

func generateCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", autherr.Wrap(autherr.CodeOTPSendFailed, "failed to generate code", err)
		}
		digits[i] = byte('0' + n.Int64())
	}

	return string(digits), nil
}
