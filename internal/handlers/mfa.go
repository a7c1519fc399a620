package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/services"
	"github.com/BradenHooton/dealerdesk/internal/session"
	pkghttp "github.com/BradenHooton/dealerdesk/pkg/http"
)

// OTPService issues and verifies one-time codes
type OTPService interface {
	GenerateLoginOTP(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error)
	GenerateSensitiveActionOTP(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error)
	Verify(ctx context.Context, userID, code string, purpose models.OTPPurpose, action string) error
}

// TrustStore records which scopes a session has verified
type TrustStore interface {
	Window(scope session.Scope) time.Duration
	IsValid(ctx context.Context, sess *session.Session, userID string, scope session.Scope) bool
	MarkVerified(ctx context.Context, sess *session.Session, userID string, scope session.Scope) error
	Invalidate(ctx context.Context, sess *session.Session, scope session.Scope) error
	InvalidateAll(ctx context.Context, sess *session.Session) error
	VerifiedAt(ctx context.Context, sess *session.Session, userID string, scope session.Scope) (time.Time, bool, error)
}

// MFAPolicy is the part of the policy engine the handlers read
type MFAPolicy interface {
	RequiresMFAForLogin(user *models.User) bool
	ResolveAction(name string) models.Action
}

// ActivityRecorder writes entries to the activity log
type ActivityRecorder interface {
	Record(ctx context.Context, entry services.ActivityEntry)
}

// SessionExpirer destroys a session and clears its cookie
type SessionExpirer interface {
	Expire(w http.ResponseWriter, r *http.Request, sess *session.Session) error
}

// MFAHandlerConfig holds the URLs and cookie settings the handlers need
type MFAHandlerConfig struct {
	VerifyURL       string
	SendCodeURL     string
	LoginURL        string
	HomeURL         string
	TokenCookieName string
	SecureCookies   bool
	IPConfig        *pkghttp.IPConfig
}

// MFAHandler serves the verification flow that the gates redirect into
type MFAHandler struct {
	otp      OTPService
	trust    TrustStore
	policy   MFAPolicy
	activity ActivityRecorder
	sessions SessionExpirer
	timing   *auth.TimingDelay
	config   MFAHandlerConfig
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(
	otp OTPService,
	trust TrustStore,
	policy MFAPolicy,
	activity ActivityRecorder,
	sessions SessionExpirer,
	timing *auth.TimingDelay,
	config MFAHandlerConfig,
	logger *slog.Logger,
) *MFAHandler {
	if config.HomeURL == "" {
		config.HomeURL = "/"
	}
	return &MFAHandler{
		otp:      otp,
		trust:    trust,
		policy:   policy,
		activity: activity,
		sessions: sessions,
		timing:   timing,
		config:   config,
		logger:   logger,
	}
}

// pendingChallenge is what the session says the user is verifying
type pendingChallenge struct {
	purpose models.OTPPurpose
	action  string
}

func (p pendingChallenge) scope() session.Scope {
	if p.purpose == models.OTPPurposeSensitiveAction {
		return session.ActionScope(p.action)
	}
	return session.LoginScope()
}

// pending reads the purpose and action the last gate recorded. Anything
// missing or inconsistent falls back to a login challenge.
func (h *MFAHandler) pending(ctx context.Context, sess *session.Session) pendingChallenge {
	raw, ok, err := sess.Get(ctx, session.KeyPendingPurpose)
	if err != nil {
		h.logger.Error("failed to read pending purpose", slog.String("error", err.Error()))
	}
	purpose := models.OTPPurpose(raw)
	if ok && !purpose.Valid() {
		h.logger.Warn("ignoring unknown pending purpose", slog.String("purpose", raw))
	}
	if purpose != models.OTPPurposeSensitiveAction {
		return pendingChallenge{purpose: models.OTPPurposeLogin}
	}

	action, ok, err := sess.Get(ctx, session.KeyIntendedAction)
	if err != nil || !ok || action == "" {
		return pendingChallenge{purpose: models.OTPPurposeLogin}
	}
	return pendingChallenge{purpose: models.OTPPurposeSensitiveAction, action: action}
}

// requestContext returns the authenticated user and session, writing the
// error response itself when either is missing.
func (h *MFAHandler) requestContext(w http.ResponseWriter, r *http.Request) (*models.User, *session.Session, bool) {
	user := auth.CurrentUser(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return nil, nil, false
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		h.logger.Error("mfa handler reached without session middleware")
		pkghttp.WriteInternalError(w, "session unavailable")
		return nil, nil, false
	}
	return user, sess, true
}

// ShowChallenge handles GET /mfa/verify. The flashed challenge is consumed;
// the pending purpose stays until a successful verify.
func (h *MFAHandler) ShowChallenge(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	pending := h.pending(ctx, sess)

	doc := ChallengeDocument{
		Purpose:     pending.purpose,
		SubmitURL:   h.config.VerifyURL,
		SendCodeURL: h.config.SendCodeURL,
	}
	if pending.action != "" {
		action := h.policy.ResolveAction(pending.action)
		name, text := string(action.Name), action.DisplayText
		doc.Action, doc.ActionText = &name, &text
	}

	var flashed models.MFAChallenge
	found, err := sess.GetJSON(ctx, session.KeyChallenge, &flashed)
	if err != nil {
		h.logger.Warn("discarding unreadable mfa challenge", slog.String("error", err.Error()))
	}
	if found && err == nil {
		doc.Challenge = &flashed
	}
	if err := sess.Forget(ctx, session.KeyChallenge); err != nil {
		h.logger.Error("failed to clear mfa challenge", slog.String("error", err.Error()))
	}

	pkghttp.WriteJSON(w, http.StatusOK, doc)
}

// SendCode handles POST /mfa/send-code, issuing a fresh code for the pending
// challenge. The previous code for the same scope stops working.
func (h *MFAHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	user, sess, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	pending := h.pending(ctx, sess)

	var (
		issue *models.OTPIssue
		err   error
	)
	meta := h.requestMetadata(r)
	if pending.purpose == models.OTPPurposeSensitiveAction {
		issue, err = h.otp.GenerateSensitiveActionOTP(ctx, user, pending.action, meta)
	} else {
		issue, err = h.otp.GenerateLoginOTP(ctx, user, meta)
	}
	if err != nil && !errors.Is(err, models.ErrDeliveryFailed) {
		h.logger.Error("failed to resend otp",
			slog.String("user_id", user.ID),
			slog.String("purpose", string(pending.purpose)),
			slog.String("error", err.Error()),
		)
		pkghttp.WriteInternalError(w, "Failed to send verification code.")
		return
	}

	challenge := models.NewMFAChallenge(pending.purpose, issue, "")
	if pending.action != "" {
		challenge = challenge.WithAction(h.policy.ResolveAction(pending.action))
	}
	if err := sess.PutJSON(ctx, session.KeyChallenge, challenge); err != nil {
		h.logger.Error("failed to flash mfa challenge", slog.String("error", err.Error()))
	}

	if pkghttp.WantsJSON(r) {
		pkghttp.WriteJSON(w, http.StatusOK, challenge)
		return
	}
	http.Redirect(w, r, h.config.VerifyURL, http.StatusSeeOther)
}

// SubmitCode handles POST /mfa/verify. On success the pending scope is
// trusted and the user goes back to the URL the gate interrupted.
func (h *MFAHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	user, sess, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	req, err := decodeVerifyRequest(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pending := h.pending(ctx, sess)

	start := time.Now()
	err = h.otp.Verify(ctx, user.ID, req.Code, pending.purpose, pending.action)
	h.timing.WaitFrom(start, err == nil)

	switch {
	case err == nil:
	case errors.Is(err, models.ErrOTPInvalidCode):
		pkghttp.WriteUnprocessable(w, "otp_invalid", "The verification code is incorrect.",
			"Check the code and try again, or request a new one.")
		return
	case errors.Is(err, models.ErrOTPExpired):
		pkghttp.WriteUnprocessable(w, "otp_expired", "The verification code has expired.",
			"Request a new code.")
		return
	case errors.Is(err, models.ErrOTPAlreadyConsumed):
		pkghttp.WriteUnprocessable(w, "otp_consumed", "The verification code has already been used.",
			"Request a new code.")
		return
	default:
		h.logger.Error("otp verification failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		pkghttp.WriteInternalError(w, "Verification failed")
		return
	}

	scope := pending.scope()
	if err := h.trust.MarkVerified(ctx, sess, user.ID, scope); err != nil {
		h.logger.Error("failed to record mfa trust",
			slog.String("user_id", user.ID),
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
		pkghttp.WriteInternalError(w, "Verification failed")
		return
	}

	intended, _, err := sess.Pull(ctx, session.KeyIntendedURL)
	if err != nil {
		h.logger.Error("failed to read intended url", slog.String("error", err.Error()))
	}
	if err := sess.Forget(ctx, session.KeyChallenge, session.KeyPendingPurpose, session.KeyIntendedAction); err != nil {
		h.logger.Error("failed to clear pending challenge", slog.String("error", err.Error()))
	}
	redirect := pkghttp.LocalPath(intended, r.Host, h.config.HomeURL)

	h.logger.Info("mfa verified",
		slog.String("user_id", user.ID),
		slog.String("scope", scope.String()),
	)

	if pkghttp.WantsJSON(r) {
		pkghttp.WriteJSON(w, http.StatusOK, VerifyCodeResponse{
			Verified: true,
			Scope:    scope.String(),
			Redirect: redirect,
		})
		return
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// Status handles GET /mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	user, sess, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	resp := MFAStatusResponse{
		Login: LoginTrustStatus{
			TrustState: h.trustState(ctx, sess, user.ID, session.LoginScope()),
			Required:   h.policy.RequiresMFAForLogin(user),
		},
		Actions: make([]ActionTrustStatus, 0),
	}
	for _, action := range models.RegisteredActions() {
		resp.Actions = append(resp.Actions, ActionTrustStatus{
			TrustState:  h.trustState(ctx, sess, user.ID, session.ActionScope(string(action.Name))),
			Action:      string(action.Name),
			DisplayText: action.DisplayText,
			RequiresMFA: action.RequiresMFA,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func (h *MFAHandler) trustState(ctx context.Context, sess *session.Session, userID string, scope session.Scope) TrustState {
	state := TrustState{
		Trusted:       h.trust.IsValid(ctx, sess, userID, scope),
		WindowMinutes: int(h.trust.Window(scope) / time.Minute),
	}
	if !state.Trusted {
		return state
	}
	if at, ok, err := h.trust.VerifiedAt(ctx, sess, userID, scope); err == nil && ok {
		state.VerifiedAt = &at
	}
	return state
}

// RevokeTrust handles POST /mfa/revoke
func (h *MFAHandler) RevokeTrust(w http.ResponseWriter, r *http.Request) {
	user, sess, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req RevokeTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var err error
	switch req.Scope {
	case "all":
		err = h.trust.InvalidateAll(ctx, sess)
	case "login":
		err = h.trust.Invalidate(ctx, sess, session.LoginScope())
	default:
		err = h.trust.Invalidate(ctx, sess, session.ActionScope(req.Scope))
	}
	if err != nil {
		h.logger.Error("failed to revoke mfa trust",
			slog.String("user_id", user.ID),
			slog.String("scope", req.Scope),
			slog.String("error", err.Error()),
		)
		pkghttp.WriteInternalError(w, "Failed to revoke verification")
		return
	}

	h.activity.Record(ctx, services.ActivityEntry{
		UserID:      user.ID,
		Action:      models.ActivityTrustRevoked,
		Description: "MFA verification revoked",
		IPAddress:   pkghttp.ExtractClientIP(r, h.config.IPConfig),
		UserAgent:   r.UserAgent(),
		Properties:  models.ActivityProperties{"scope": req.Scope},
	})

	pkghttp.WriteJSON(w, http.StatusOK, RevokeTrustResponse{Revoked: req.Scope})
}

// Logout handles POST /logout. Every trust record goes with the session.
func (h *MFAHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sess := session.FromContext(ctx); sess != nil {
		if err := h.trust.InvalidateAll(ctx, sess); err != nil {
			h.logger.Error("failed to invalidate mfa trust on logout", slog.String("error", err.Error()))
		}
		if err := h.sessions.Expire(w, r, sess); err != nil {
			h.logger.Error("failed to destroy session on logout", slog.String("error", err.Error()))
		}
	}
	auth.ClearAuthTokenCookie(w, h.config.TokenCookieName, h.config.SecureCookies)

	if user := auth.CurrentUser(r); user != nil {
		h.logger.Info("user logged out", slog.String("user_id", user.ID))
	}

	if pkghttp.WantsJSON(r) {
		pkghttp.WriteJSON(w, http.StatusOK, LogoutResponse{LoggedOut: true, Redirect: h.config.LoginURL})
		return
	}
	http.Redirect(w, r, h.config.LoginURL, http.StatusSeeOther)
}

func (h *MFAHandler) requestMetadata(r *http.Request) models.OTPMetadata {
	return models.OTPMetadata{
		"url":        r.URL.RequestURI(),
		"method":     r.Method,
		"ip_address": pkghttp.ExtractClientIP(r, h.config.IPConfig),
		"user_agent": r.UserAgent(),
	}
}

// decodeVerifyRequest accepts a JSON body or a submitted form
func decodeVerifyRequest(r *http.Request) (VerifyCodeRequest, error) {
	var req VerifyCodeRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Code = r.PostForm.Get("code")
	return req, nil
}
