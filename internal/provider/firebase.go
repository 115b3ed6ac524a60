package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/util"
)

// FirebaseProvider delivers a service-generated code over the Firebase SMS
// gateway. Verification stays local: the orchestrator compares the stored
// hash, so VerifyOTP is never delegated here.
type FirebaseProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewFirebaseProvider(cfg *config.Config, httpClient *http.Client) *FirebaseProvider {
	return &FirebaseProvider{
		apiKey:     cfg.Provider.Firebase.APIKey,
		baseURL:    cfg.Provider.Firebase.BaseURL,
		httpClient: httpClient,
	}
}

func (p *FirebaseProvider) Name() string { return "firebase" }

type firebaseSendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

type firebaseSendResponse struct {
	SessionInfo string `json:"sessionInfo"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *FirebaseProvider) SendOTP(ctx context.Context, phoneNumber, code string) (*SendResult, error) {
	payload, err := json.Marshal(firebaseSendRequest{
		PhoneNumber: "+91" + phoneNumber,
		Code:        code,
	})
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeProviderError, "failed to encode send request", err)
	}

	url := fmt.Sprintf("%s/v1/accounts:sendVerificationCode?key=%s", p.baseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeProviderError, "failed to build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		util.Error("Firebase send request failed",
			zap.String("phone", util.MaskPhone(phoneNumber)),
			zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeOTPSendFailed, "provider unreachable", err)
	}
	defer resp.Body.Close()

	var body firebaseSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, autherr.Wrap(autherr.CodeProviderError, "invalid provider response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "provider rejected send"
		if body.Error != nil {
			msg = body.Error.Message
		}
		util.Error("Firebase rejected OTP send",
			zap.String("phone", util.MaskPhone(phoneNumber)),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return nil, autherr.New(autherr.CodeOTPSendFailed, msg)
	}

	util.Info("OTP dispatched via Firebase",
		zap.String("phone", util.MaskPhone(phoneNumber)))

	return &SendResult{
		VerificationID: body.SessionInfo,
		RemoteVerify:   false,
	}, nil
}

// VerifyOTP is unused for this adapter; codes are verified against the local
// hash. Kept to satisfy the interface.
func (p *FirebaseProvider) VerifyOTP(ctx context.Context, verificationID, code string) (bool, error) {
	return false, autherr.New(autherr.CodeProviderError, "firebase adapter verifies locally")
}
