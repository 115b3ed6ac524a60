package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/model"
	"agri-auth/internal/service"
	"agri-auth/internal/util"
)

// AuthAPI is the slice of the auth orchestrator the handler needs.
type AuthAPI interface {
	CheckNumber(ctx context.Context, rawPhone string) (*service.CheckNumberResult, error)
	SendOTP(ctx context.Context, rawPhone, ipAddress string) (*service.SendOTPResult, error)
	VerifyOTP(ctx context.Context, rawPhone, code, ipAddress, deviceInfo string) (*service.VerifyOTPResult, error)
	CompleteSignup(ctx context.Context, req *service.SignupRequest) (*service.VerifyOTPResult, error)
	UpdateProfile(ctx context.Context, token string, req *service.ProfileUpdateRequest) (*model.Farmer, error)
	Logout(ctx context.Context, token string) error
	Session(ctx context.Context, token string) (*model.Farmer, *model.AuthSession, error)
}

// AuthHandler exposes the auth flow over HTTP and owns the session cookie.
type AuthHandler struct {
	auth   AuthAPI
	config *config.Config
	logger *zap.Logger
}

func NewAuthHandler(auth AuthAPI, cfg *config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		config: cfg,
		logger: logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// RegisterRoutes registers the auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/check-number", h.CheckNumber)
		r.Post("/send-otp", h.SendOTP)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/signup", h.Signup)
		r.Post("/logout", h.Logout)
		r.Get("/session", h.Session)
		r.Put("/profile", h.UpdateProfile)
	})
}

type checkNumberRequest struct {
	MobileNumber string `json:"mobile_number"`
}

func (h *AuthHandler) CheckNumber(w http.ResponseWriter, r *http.Request) {
	var req checkNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.New(autherr.CodeInvalidPhoneNumber, "invalid request body"))
		return
	}

	result, err := h.auth.CheckNumber(r.Context(), req.MobileNumber)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, ""))
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.New(autherr.CodeInvalidPhoneNumber, "invalid request body"))
		return
	}

	result, err := h.auth.SendOTP(r.Context(), req.PhoneNumber, clientIP(r))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "OTP sent"))
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type verifyOTPResponse struct {
	IsNewUser bool          `json:"is_new_user"`
	Farmer    *model.Farmer `json:"farmer,omitempty"`
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.New(autherr.CodeInvalidOTP, "invalid request body"))
		return
	}

	result, err := h.auth.VerifyOTP(r.Context(), req.PhoneNumber, req.OTP, clientIP(r), r.UserAgent())
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	if result.Session != nil {
		h.setSessionCookie(w, result.Session.Token)
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(verifyOTPResponse{
		IsNewUser: result.IsNewUser,
		Farmer:    result.Farmer,
	}, "OTP verified"))
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req service.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.New(autherr.CodeInvalidPhoneNumber, "invalid request body"))
		return
	}
	req.IPAddress = clientIP(r)
	req.DeviceInfo = r.UserAgent()

	result, err := h.auth.CompleteSignup(r.Context(), &req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.setSessionCookie(w, result.Session.Token)
	h.respondWithJSON(w, http.StatusCreated, successResponse(result.Farmer, "Signup completed"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := h.sessionToken(r)

	// The cookie is cleared regardless; logout is idempotent client-side.
	h.clearSessionCookie(w)

	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, autherr.New(autherr.CodeInvalidPhoneNumber, "invalid request body"))
		return
	}

	farmer, err := h.auth.UpdateProfile(r.Context(), h.sessionToken(r), &req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(farmer, "Profile updated"))
}

type sessionResponse struct {
	Farmer    *model.Farmer `json:"farmer"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	farmer, session, err := h.auth.Session(r.Context(), h.sessionToken(r))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		Farmer:    farmer,
		ExpiresAt: session.ExpiresAt,
	}, ""))
}

// Cookie handling

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Session.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.Session.CookieDomain,
		MaxAge:   int(h.config.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.Session.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Session.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.Session.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Session.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(h.config.Session.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func clientIP(r *http.Request) string {
	// middleware.RealIP has already rewritten RemoteAddr from the forwarding
	// headers when present.
	return r.RemoteAddr
}

// Response plumbing

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error) {
	code := autherr.CodeOf(err)
	if code == "" {
		code = autherr.CodeStoreUnavailable
	}

	status := autherr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", util.String("code", string(code)), util.ErrorField(err))
	}

	setRetryAfter(w, err)
	h.respondWithJSON(w, status, Response{
		Success: false,
		Error:   string(code),
		Message: publicMessage(err),
	})
}

// setRetryAfter translates the error's backoff hint into a Retry-After
// header. Transient upstream failures without an explicit hint get a
// one-second floor so clients back off instead of hammering.
func setRetryAfter(w http.ResponseWriter, err error) {
	if d := autherr.RetryAfterOf(err); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((d+time.Second-1)/time.Second)))
	} else if autherr.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
}

// publicMessage strips wrapped internals; only the typed message leaves the
// process.
func publicMessage(err error) string {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}
