package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/util"
)

// TwilioProvider uses the Twilio Verify API. Twilio generates and holds the
// code, so VerifyOTP delegates the comparison to the provider; the supplied
// service-generated code is ignored on send.
type TwilioProvider struct {
	accountSID       string
	authToken        string
	verifyServiceSID string
	baseURL          string
	httpClient       *http.Client
}

func NewTwilioProvider(cfg *config.Config, httpClient *http.Client) *TwilioProvider {
	return &TwilioProvider{
		accountSID:       cfg.Provider.Twilio.AccountSID,
		authToken:        cfg.Provider.Twilio.AuthToken,
		verifyServiceSID: cfg.Provider.Twilio.VerifyServiceSID,
		baseURL:          cfg.Provider.Twilio.BaseURL,
		httpClient:       httpClient,
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioVerificationResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *TwilioProvider) SendOTP(ctx context.Context, phoneNumber, code string) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", "+91"+phoneNumber)
	form.Set("Channel", "sms")

	endpoint := fmt.Sprintf("%s/v2/Services/%s/Verifications", p.baseURL, p.verifyServiceSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeProviderError, "failed to build send request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		util.Error("Twilio send request failed",
			zap.String("phone", util.MaskPhone(phoneNumber)),
			zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeOTPSendFailed, "provider unreachable", err)
	}
	defer resp.Body.Close()

	var body twilioVerificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, autherr.Wrap(autherr.CodeProviderError, "invalid provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		util.Error("Twilio rejected OTP send",
			zap.String("phone", util.MaskPhone(phoneNumber)),
			zap.Int("status", resp.StatusCode),
			zap.String("message", body.Message))
		return nil, autherr.New(autherr.CodeOTPSendFailed, "provider rejected send")
	}

	util.Info("OTP dispatched via Twilio Verify",
		zap.String("phone", util.MaskPhone(phoneNumber)),
		zap.String("verification_sid", body.SID))

	return &SendResult{
		VerificationID: body.SID,
		RemoteVerify:   true,
	}, nil
}

type twilioCheckResponse struct {
	Status string `json:"status"`
}

// VerifyOTP checks the code with Twilio. The phone is identified by the
// verification SID returned at send time.
func (p *TwilioProvider) VerifyOTP(ctx context.Context, verificationID, code string) (bool, error) {
	form := url.Values{}
	form.Set("VerificationSid", verificationID)
	form.Set("Code", code)

	endpoint := fmt.Sprintf("%s/v2/Services/%s/VerificationCheck", p.baseURL, p.verifyServiceSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, autherr.Wrap(autherr.CodeProviderError, "failed to build verify request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, autherr.Wrap(autherr.CodeProviderError, "provider unreachable", err)
	}
	defer resp.Body.Close()

	var body twilioCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, autherr.Wrap(autherr.CodeProviderError, "invalid provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, autherr.New(autherr.CodeProviderError, "verification check failed")
	}

	return body.Status == "approved", nil
}
