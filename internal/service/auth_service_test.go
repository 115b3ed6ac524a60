package service

import (
	"context"
	"fmt"
	"testing"

	"agri-auth/internal/autherr"
)

const testPhone = "9876543210"

func wantCode(t *testing.T, err error, code autherr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %s", code)
	}
	if got := autherr.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestCheckNumber(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	res, err := f.auth.CheckNumber(ctx, testPhone)
	if err != nil {
		t.Fatalf("CheckNumber: %v", err)
	}
	if res.Exists || res.NextStep != "signup" {
		t.Errorf("unknown phone: got %+v, want exists=false next_step=signup", res)
	}

	if _, err := f.auth.CheckNumber(ctx, "12345"); err == nil {
		t.Error("malformed phone accepted")
	} else {
		wantCode(t, err, autherr.CodeInvalidPhoneNumber)
	}
}

// A brand-new number goes check-number, send-OTP, verify-OTP, signup, and ends
// with a valid session and a farmer record.
func TestNewUserSignupFlow(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	check, err := f.auth.CheckNumber(ctx, testPhone)
	if err != nil {
		t.Fatalf("CheckNumber: %v", err)
	}
	if check.NextStep != "signup" {
		t.Fatalf("next_step = %q, want signup", check.NextStep)
	}

	sent, err := f.auth.SendOTP(ctx, testPhone, "203.0.113.7")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if sent.ExpiresAt.IsZero() {
		t.Error("SendOTP returned zero expiry")
	}

	verified, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "203.0.113.7", "android/13")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !verified.IsNewUser {
		t.Fatal("IsNewUser = false for unknown phone")
	}
	if verified.Session != nil {
		t.Fatal("session issued before signup completed")
	}

	state, _ := f.flows.GetState(ctx, testPhone)
	if FlowState(state) != FlowSignupPending {
		t.Fatalf("flow state = %q, want signup_pending", state)
	}

	done, err := f.auth.CompleteSignup(ctx, &SignupRequest{
		PhoneNumber: testPhone,
		Name:        "Ramesh Kumar",
		District:    "Nashik",
		Crops:       []string{"onion", "grape"},
		DeviceInfo:  "android/13",
		IPAddress:   "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("CompleteSignup: %v", err)
	}
	if done.Farmer == nil || done.Session == nil {
		t.Fatal("signup did not return farmer and session")
	}
	if done.Farmer.PhoneHash != PhoneHash(testPhone) {
		t.Error("farmer stored under wrong phone hash")
	}
	if !done.Farmer.IsVerified {
		t.Error("signed-up farmer not marked verified")
	}
	if len(done.Farmer.PhoneEncrypted) == 0 {
		t.Error("phone number stored without encryption")
	}

	farmer, session, err := f.auth.Session(ctx, done.Session.Token)
	if err != nil {
		t.Fatalf("Session after signup: %v", err)
	}
	if farmer.FarmerID != done.Farmer.FarmerID {
		t.Error("session resolves to a different farmer")
	}
	if session.FarmerID != farmer.FarmerID {
		t.Error("session record carries wrong farmer id")
	}

	if state, _ := f.flows.GetState(ctx, testPhone); state != "" {
		t.Errorf("flow state = %q after signup, want cleared", state)
	}
}

// An existing farmer survives three wrong codes and logs in on the fourth.
func TestExistingUserLoginWithRetries(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	check, err := f.auth.CheckNumber(ctx, testPhone)
	if err != nil {
		t.Fatalf("CheckNumber: %v", err)
	}
	if !check.Exists || check.NextStep != "login" {
		t.Fatalf("got %+v, want exists=true next_step=login", check)
	}

	if _, err := f.auth.SendOTP(ctx, testPhone, "198.51.100.2"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := f.auth.VerifyOTP(ctx, testPhone, "000000", "198.51.100.2", "ios/17")
		wantCode(t, err, autherr.CodeInvalidOTP)
	}

	result, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "198.51.100.2", "ios/17")
	if err != nil {
		t.Fatalf("VerifyOTP on 4th attempt: %v", err)
	}
	if result.IsNewUser {
		t.Fatal("existing farmer reported as new user")
	}
	if result.Session == nil || result.Session.Token == "" {
		t.Fatal("no session issued on successful login")
	}

	if _, _, err := f.auth.Session(ctx, result.Session.Token); err != nil {
		t.Fatalf("issued session not valid: %v", err)
	}
}

// A correct code works exactly once; the record is consumed on the match.
func TestVerifyOTPSingleUse(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	code := f.sender.code()

	if _, err := f.auth.VerifyOTP(ctx, testPhone, code, "", ""); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	_, err := f.auth.VerifyOTP(ctx, testPhone, code, "", "")
	wantCode(t, err, autherr.CodeOTPExpired)
}

// Requesting a new OTP supersedes the prior one; the old code stops working.
func TestSendOTPSupersedes(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("first SendOTP: %v", err)
	}
	firstCode := f.sender.code()

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("second SendOTP: %v", err)
	}
	secondCode := f.sender.code()

	if firstCode == secondCode {
		t.Skip("generated codes collided")
	}

	_, err := f.auth.VerifyOTP(ctx, testPhone, firstCode, "", "")
	wantCode(t, err, autherr.CodeInvalidOTP)

	if _, err := f.auth.VerifyOTP(ctx, testPhone, secondCode, "", ""); err != nil {
		t.Fatalf("verify with superseding code: %v", err)
	}
}

// Exactly MaxAttempts verifications are allowed; the next one fails even with
// the right code, and the record is gone afterwards.
func TestMaxAttemptsExactBound(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	for i := 0; i < f.cfg.OTP.MaxAttempts; i++ {
		_, err := f.auth.VerifyOTP(ctx, testPhone, "000000", "", "")
		wantCode(t, err, autherr.CodeInvalidOTP)
	}

	_, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "", "")
	wantCode(t, err, autherr.CodeMaxAttemptsExceeded)

	// The record was invalidated, so further attempts see no active OTP.
	_, err = f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "", "")
	wantCode(t, err, autherr.CodeOTPExpired)
}

func TestVerifyExpiredOTP(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	f.otps.expire(testPhone)

	_, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "", "")
	wantCode(t, err, autherr.CodeOTPExpired)

	// Lazy expiry removed the record.
	if _, err := f.otps.Get(ctx, testPhone); err == nil {
		t.Error("expired OTP record still present")
	}
}

// Ten sends fit in the window; the eleventh is rejected.
func TestSendOTPRateLimit(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	for i := 0; i < f.cfg.RateLimit.MaxRequests; i++ {
		if _, err := f.auth.SendOTP(ctx, testPhone, "192.0.2.1"); err != nil {
			t.Fatalf("SendOTP #%d: %v", i+1, err)
		}
	}

	_, err := f.auth.SendOTP(ctx, testPhone, "192.0.2.1")
	wantCode(t, err, autherr.CodeRateLimitExceeded)

	if f.sender.sendCount != f.cfg.RateLimit.MaxRequests {
		t.Errorf("provider called %d times, want %d", f.sender.sendCount, f.cfg.RateLimit.MaxRequests)
	}
}

func TestCompleteSignupRequiresVerifiedPhone(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	req := &SignupRequest{PhoneNumber: testPhone, Name: "X", District: "Pune"}

	// No OTP was ever verified for this phone.
	_, err := f.auth.CompleteSignup(ctx, req)
	wantCode(t, err, autherr.CodeInvalidSession)

	// otp_pending is not enough either.
	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	_, err = f.auth.CompleteSignup(ctx, req)
	wantCode(t, err, autherr.CodeInvalidSession)
}

func TestCompleteSignupDuplicatePhone(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	// Force the flow into signup_pending as if verify raced with a signup
	// that already happened elsewhere.
	if err := f.flows.SetState(ctx, testPhone, string(FlowSignupPending), f.cfg.OTP.TTL); err != nil {
		t.Fatal(err)
	}

	_, err := f.auth.CompleteSignup(ctx, &SignupRequest{PhoneNumber: testPhone, Name: "X"})
	wantCode(t, err, autherr.CodeUserAlreadyExists)
}

// The twilio-style path delegates code comparison to the provider.
func TestVerifyOTPRemoteVerify(t *testing.T) {
	f := newAuthFixture()
	f.sender.remoteVerify = true
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	_, err := f.auth.VerifyOTP(ctx, testPhone, "000000", "", "")
	wantCode(t, err, autherr.CodeInvalidOTP)

	if _, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "", ""); err != nil {
		t.Fatalf("remote verify with correct code: %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	result, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "", "")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	token := result.Session.Token

	if err := f.auth.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, _, err = f.auth.Session(ctx, token)
	wantCode(t, err, autherr.CodeInvalidSession)

	// Logging out again, or with garbage, is a no-op.
	if err := f.auth.Logout(ctx, token); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := f.auth.Logout(ctx, "no-such-token"); err != nil {
		t.Errorf("Logout with unknown token: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	if _, err := f.auth.SendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	result, err := f.auth.VerifyOTP(ctx, testPhone, f.sender.code(), "", "")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	token := result.Session.Token

	updated, err := f.auth.UpdateProfile(ctx, token, &ProfileUpdateRequest{
		District: "Kolhapur",
		Crops:    []string{"sugarcane", "soybean"},
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.District != "Kolhapur" {
		t.Errorf("district = %q, want Kolhapur", updated.District)
	}
	// Untouched fields keep their values.
	if updated.Name == "" {
		t.Error("name was cleared by a partial update")
	}
	if updated.UpdatedAt == nil {
		t.Error("UpdatedAt not set")
	}

	// The change is durable: a fresh session read sees it.
	farmer, _, err := f.auth.Session(ctx, token)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if farmer.District != "Kolhapur" || len(farmer.Crops) != 2 {
		t.Errorf("stored profile = %q %v", farmer.District, farmer.Crops)
	}
}

func TestUpdateProfileRequiresSession(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	seedFarmer(t, f, testPhone)

	_, err := f.auth.UpdateProfile(ctx, "no-such-token", &ProfileUpdateRequest{Name: "X"})
	wantCode(t, err, autherr.CodeInvalidSession)
}

// seedFarmer registers an existing account for the phone through the real
// signup path, then clears flow state.
func seedFarmer(t *testing.T, f *authFixture, phone string) {
	t.Helper()
	ctx := context.Background()

	if err := f.flows.SetState(ctx, phone, string(FlowSignupPending), f.cfg.OTP.TTL); err != nil {
		t.Fatal(err)
	}
	_, err := f.auth.CompleteSignup(ctx, &SignupRequest{
		PhoneNumber: phone,
		Name:        fmt.Sprintf("Farmer %s", phone[6:]),
		District:    "Satara",
		Crops:       []string{"sugarcane"},
	})
	if err != nil {
		t.Fatalf("seedFarmer: %v", err)
	}
	if err := f.flows.ClearState(ctx, phone); err != nil {
		t.Fatal(err)
	}
	// Reset the send counter so rate limit assertions start clean.
	f.limits.ResetWindow(ctx, "otp:"+phone)
}

func TestGenerateCode(t *testing.T) {
	code, err := generateCode(6)
	if err != nil {
		t.Fatalf("generateCode: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("len = %d, want 6", len(code))
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Errorf("non-digit %q in code %q", c, code)
		}
	}

	// Zero or negative lengths fall back to six digits.
	code, err = generateCode(0)
	if err != nil {
		t.Fatalf("generateCode(0): %v", err)
	}
	if len(code) != 6 {
		t.Errorf("fallback len = %d, want 6", len(code))
	}
}
