package provider

import (
	"context"
	"net/http"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
)

// SendResult reports what the provider did with the code.
type SendResult struct {
	// VerificationID correlates a later verify call with the send. Empty for
	// providers that only deliver the message.
	VerificationID string
	// RemoteVerify is true when the provider holds the code and VerifyOTP
	// must be delegated to it instead of comparing our stored hash.
	RemoteVerify bool
}

// OTPProvider abstracts the SMS delivery channel. The orchestrator generates
// and stores the code; a provider either just delivers it (local verify) or
// manages the code itself (remote verify).
type OTPProvider interface {
	Name() string
	SendOTP(ctx context.Context, phoneNumber, code string) (*SendResult, error)
	VerifyOTP(ctx context.Context, verificationID, code string) (bool, error)
}

// NewProvider builds the configured adapter. Unknown names are a
// configuration error, not a silent fallback.
func NewProvider(cfg *config.Config) (OTPProvider, error) {
	httpClient := &http.Client{Timeout: cfg.Provider.Timeout}

	switch cfg.Provider.Name {
	case "firebase":
		return NewFirebaseProvider(cfg, httpClient), nil
	case "twilio":
		return NewTwilioProvider(cfg, httpClient), nil
	default:
		return nil, autherr.New(autherr.CodeConfiguration, "unknown OTP provider: "+cfg.Provider.Name)
	}
}
