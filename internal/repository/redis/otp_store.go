package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/client"
	"agri-auth/internal/model"
	"agri-auth/internal/util"
)

const (
	otpPrefix = "otp:"

	otpOpTimeout = 5 * time.Second
)

// recordAttemptScript increments the attempt counter and returns the full
// record in the same round trip, so two concurrent verify calls can never
// observe the same attempt number.
const recordAttemptScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
    return nil
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
local data = redis.call("HGETALL", KEYS[1])
table.insert(data, "new_attempts")
table.insert(data, tostring(attempts))
return data
`

// OTPStore keeps the single active OTP record per phone in a Redis hash.
// The key TTL enforces expiry lazily; no sweeper runs.
type OTPStore struct {
	client *client.RedisClient
}

func NewOTPStore(redisClient *client.RedisClient) *OTPStore {
	return &OTPStore{client: redisClient}
}

// Create writes a fresh OTP record, superseding any prior active record for
// the phone. DEL+HSET+EXPIRE run inside MULTI/EXEC so a concurrent verify
// never sees a half-written record.
func (s *OTPStore) Create(ctx context.Context, session *model.OTPSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + session.PhoneNumber

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"otp_id", session.OTPID,
		"otp_hash", session.OTPHash,
		"otp_salt", session.OTPSalt,
		"pepper_version", session.PepperVersion,
		"attempts", 0,
		"created_at", session.CreatedAt.Unix(),
		"expires_at", session.ExpiresAt.Unix(),
		"verified", "0",
		"provider", session.Provider,
		"verification_id", session.VerificationID,
		"remote_verify", boolField(session.RemoteVerify),
	)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to create OTP record",
			zap.String("phone", util.MaskPhone(session.PhoneNumber)),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to create OTP record", err)
	}

	util.Debug("OTP record created",
		zap.String("phone", util.MaskPhone(session.PhoneNumber)),
		zap.Duration("ttl", ttl))

	return nil
}

// RecordAttempt atomically increments the attempt counter for the phone's
// active record and returns the record plus the attempt number just consumed.
// A missing record reads as expired; lazy expiry makes the two cases
// indistinguishable anyway.
func (s *OTPStore) RecordAttempt(ctx context.Context, phoneNumber string) (*model.OTPSession, int, error) {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + phoneNumber

	result, err := s.client.Eval(ctx, recordAttemptScript, []string{key})
	if err != nil {
		if isRedisNil(err) {
			return nil, 0, autherr.New(autherr.CodeOTPExpired, "no active OTP for phone")
		}
		util.Error("Failed to record OTP attempt",
			zap.String("phone", util.MaskPhone(phoneNumber)),
			zap.Error(err))
		return nil, 0, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to record OTP attempt", err)
	}

	fields, ok := result.([]interface{})
	if !ok || len(fields) == 0 {
		return nil, 0, autherr.New(autherr.CodeOTPExpired, "no active OTP for phone")
	}

	session, attempts, err := parseOTPFields(phoneNumber, fields)
	if err != nil {
		return nil, 0, autherr.Wrap(autherr.CodeStoreUnavailable, "corrupt OTP record", err)
	}

	return session, attempts, nil
}

// Consume deletes the record after a successful verification so the code can
// never be replayed.
func (s *OTPStore) Consume(ctx context.Context, phoneNumber string) error {
	return s.Invalidate(ctx, phoneNumber)
}

// Invalidate removes any active record for the phone.
func (s *OTPStore) Invalidate(ctx context.Context, phoneNumber string) error {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + phoneNumber
	if err := s.client.Del(ctx, key); err != nil {
		util.Error("Failed to invalidate OTP record",
			zap.String("phone", util.MaskPhone(phoneNumber)),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to invalidate OTP record", err)
	}
	return nil
}

// Get reads the active record without touching the attempt counter.
func (s *OTPStore) Get(ctx context.Context, phoneNumber string) (*model.OTPSession, error) {
	ctx, cancel := context.WithTimeout(ctx, otpOpTimeout)
	defer cancel()

	key := otpPrefix + phoneNumber

	values, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to read OTP record", err)
	}
	if len(values) == 0 {
		return nil, autherr.New(autherr.CodeOTPExpired, "no active OTP for phone")
	}

	session := otpSessionFromMap(phoneNumber, values)
	return session, nil
}

func parseOTPFields(phoneNumber string, flat []interface{}) (*model.OTPSession, int, error) {
	values := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, kok := flat[i].(string)
		v, vok := flat[i+1].(string)
		if !kok || !vok {
			return nil, 0, fmt.Errorf("unexpected field type at index %d", i)
		}
		values[k] = v
	}

	attempts, err := strconv.Atoi(values["new_attempts"])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid attempt counter: %w", err)
	}

	return otpSessionFromMap(phoneNumber, values), attempts, nil
}

func otpSessionFromMap(phoneNumber string, values map[string]string) *model.OTPSession {
	pepperVersion, _ := strconv.Atoi(values["pepper_version"])
	attempts, _ := strconv.Atoi(values["attempts"])
	createdAt, _ := strconv.ParseInt(values["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(values["expires_at"], 10, 64)

	return &model.OTPSession{
		OTPID:          values["otp_id"],
		PhoneNumber:    phoneNumber,
		OTPHash:        values["otp_hash"],
		OTPSalt:        values["otp_salt"],
		PepperVersion:  pepperVersion,
		Attempts:       attempts,
		CreatedAt:      time.Unix(createdAt, 0).UTC(),
		ExpiresAt:      time.Unix(expiresAt, 0).UTC(),
		Verified:       values["verified"] == "1",
		Provider:       values["provider"],
		VerificationID: values["verification_id"],
		RemoteVerify:   values["remote_verify"] == "1",
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
