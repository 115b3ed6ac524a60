package model

import (
	"context"
	"time"
)

// -------------------- FARMER MODEL --------------------
type Farmer struct {
	FarmerBucket   int        `json:"-" db:"farmer_bucket"`
	FarmerID       string     `json:"farmer_id" db:"farmer_id"` // UUID
	PhoneHash      string     `json:"-" db:"phone_hash"`
	PhoneEncrypted []byte     `json:"-" db:"phone_encrypted"`
	PhoneKeyID     string     `json:"-" db:"phone_key_id"`
	Name           string     `json:"name" db:"name"`
	District       string     `json:"district" db:"district"`
	Crops          []string   `json:"crops" db:"crops"`
	IsVerified     bool       `json:"is_verified" db:"is_verified"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at" db:"updated_at"`
	LastLoginAt    *time.Time `json:"last_login_at" db:"last_login_at"`
}

// -------------------- OTP SESSION MODEL --------------------
// One outstanding verification attempt for a phone number. The raw code is
// never stored; OTPHash/OTPSalt carry the argon2id digest. A phone has at
// most one active record; creating a new one supersedes the prior.
type OTPSession struct {
	OTPID          string    `json:"otp_id"`
	PhoneNumber    string    `json:"phone_number"`
	OTPHash        string    `json:"otp_hash"`
	OTPSalt        string    `json:"otp_salt"`
	PepperVersion  int       `json:"pepper_version"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Verified       bool      `json:"verified"`
	Provider       string    `json:"provider"`        // "firebase" | "twilio"
	VerificationID string    `json:"verification_id"` // provider correlation id
	RemoteVerify   bool      `json:"remote_verify"`   // provider holds the code
}

// AttemptOutcome is the result of recording a verification attempt against
// the active OTP session for a phone.
type AttemptOutcome int

const (
	AttemptMatched AttemptOutcome = iota
	AttemptMismatched
	AttemptExpired
	AttemptMaxExceeded
)

func (o AttemptOutcome) String() string {
	switch o {
	case AttemptMatched:
		return "matched"
	case AttemptMismatched:
		return "mismatched"
	case AttemptExpired:
		return "expired"
	case AttemptMaxExceeded:
		return "max_attempts_exceeded"
	default:
		return "unknown"
	}
}

// -------------------- AUTH SESSION MODEL --------------------
type AuthSession struct {
	SessionID      string    `json:"session_id"` // UUID
	FarmerID       string    `json:"farmer_id"`
	TokenHash      string    `json:"-"` // sha256 of the opaque token
	DeviceInfo     string    `json:"device_info"`
	IPAddress      string    `json:"ip_address"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// -------------------- AUDIT EVENT MODEL --------------------
type AuthEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"` // otp_sent, otp_verified, login_succeeded, ...
	PhoneHash  string    `json:"phone_hash"`
	FarmerID   string    `json:"farmer_id,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	DeviceInfo string    `json:"device_info,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

// FarmerRepository defines durable farmer identity operations.
type FarmerRepository interface {
	CreateFarmer(ctx context.Context, farmer *Farmer) error
	GetFarmerByID(ctx context.Context, farmerID string) (*Farmer, error)
	GetFarmerByPhoneHash(ctx context.Context, phoneHash string) (*Farmer, error)
	UpdateLastLogin(ctx context.Context, farmerID string, at time.Time) error
	UpdateProfile(ctx context.Context, farmer *Farmer) error
	HealthCheck(ctx context.Context) error
}

// SessionRepository defines durable auth session record operations.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *AuthSession) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*AuthSession, error)
	TouchSession(ctx context.Context, farmerID, sessionID string, at time.Time) error
	RevokeSession(ctx context.Context, farmerID, sessionID string) error
	ListFarmerSessions(ctx context.Context, farmerID string) ([]*AuthSession, error)
	RevokeAllFarmerSessions(ctx context.Context, farmerID string) error
}

// -------------------- STORE INTERFACES --------------------

// OTPStore persists OTP sessions keyed by phone number. Create supersedes any
// prior active record for the phone atomically; RecordAttempt atomically
// increments the attempt counter while reading the record.
type OTPStore interface {
	Create(ctx context.Context, session *OTPSession, ttl time.Duration) error
	RecordAttempt(ctx context.Context, phoneNumber string) (*OTPSession, int, error)
	Consume(ctx context.Context, phoneNumber string) error
	Invalidate(ctx context.Context, phoneNumber string) error
	Get(ctx context.Context, phoneNumber string) (*OTPSession, error)
}

// SessionCache is the hot-path token lookup over Redis.
type SessionCache interface {
	PutSession(ctx context.Context, tokenHash string, session *AuthSession, ttl time.Duration) error
	GetSession(ctx context.Context, tokenHash string) (*AuthSession, error)
	DropSession(ctx context.Context, tokenHash string) error
	TouchSession(ctx context.Context, tokenHash string, at time.Time) error
}

// RateLimitStore counts requests per key within a reset window.
type RateLimitStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (count int64, retryAfter time.Duration, err error)
	ResetWindow(ctx context.Context, key string) error
}

// FlowStore persists the auth flow state per phone number. Absent keys read
// as the initial state.
type FlowStore interface {
	GetState(ctx context.Context, phoneNumber string) (string, error)
	SetState(ctx context.Context, phoneNumber, state string, ttl time.Duration) error
	ClearState(ctx context.Context, phoneNumber string) error
}
