package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/dealerdesk/internal/metrics"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/session"
	pkghttp "github.com/BradenHooton/dealerdesk/pkg/http"
)

const (
	gateLogin  = "login"
	gateAction = "action"

	msgDeliveryFailed   = "We could not send a verification code. Use resend to try again."
	msgGenerationFailed = "Failed to send verification code."
)

// MFAPolicy decides whether a user must present a code
type MFAPolicy interface {
	RequiresMFAForLogin(user *models.User) bool
	RequiresMFAForAction(action string, user *models.User) bool
	ResolveAction(name string) models.Action
}

// ChallengeIssuer issues codes for the gates
type ChallengeIssuer interface {
	GenerateLoginOTP(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error)
	GenerateSensitiveActionOTP(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error)
}

// TrustChecker reports whether a user already passed MFA for a scope in
// this session
type TrustChecker interface {
	IsValid(ctx context.Context, sess *session.Session, userID string, scope session.Scope) bool
}

// GateConfig carries the URLs the gates redirect to. ExemptPaths are the
// MFA flow and logout paths, which the login gate never interrupts.
type GateConfig struct {
	LoginURL    string
	VerifyURL   string
	ExemptPaths []string
	IPConfig    *pkghttp.IPConfig
}

// MFAGate holds the login gate and the per-action gates. Both require
// Authenticate and the session middleware to run first.
type MFAGate struct {
	policy  MFAPolicy
	otp     ChallengeIssuer
	trust   TrustChecker
	config  GateConfig
	metrics *metrics.MFA
	logger  *slog.Logger
}

func NewMFAGate(policy MFAPolicy, otp ChallengeIssuer, trust TrustChecker, config GateConfig, m *metrics.MFA, logger *slog.Logger) *MFAGate {
	return &MFAGate{
		policy:  policy,
		otp:     otp,
		trust:   trust,
		config:  config,
		metrics: m,
		logger:  logger,
	}
}

// mfaRequiredResponse is returned to JSON clients instead of a redirect
type mfaRequiredResponse struct {
	Error     string              `json:"error"`
	Redirect  string              `json:"redirect"`
	Challenge models.MFAChallenge `json:"challenge"`
}

// LoginGate interrupts authenticated requests until the session has passed
// login MFA within the trust window.
func (g *MFAGate) LoginGate() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user := CurrentUser(r)
			if user == nil {
				g.metrics.GateDecision(gateLogin, metrics.DecisionUnauthorized)
				g.redirectToLogin(w, r)
				return
			}

			sess := session.FromContext(ctx)
			if sess == nil {
				g.logger.Error("login gate mounted without session middleware")
				pkghttp.WriteInternalError(w, "session unavailable")
				return
			}

			if g.isExemptPath(r.URL.Path) || !g.policy.RequiresMFAForLogin(user) || g.trust.IsValid(ctx, sess, user.ID, session.LoginScope()) {
				g.metrics.GateDecision(gateLogin, metrics.DecisionPassthrough)
				next.ServeHTTP(w, r)
				return
			}

			g.rememberIntent(ctx, sess, r, models.OTPPurposeLogin, "")

			issue, err := g.otp.GenerateLoginOTP(ctx, user, g.requestMetadata(r))
			challenge := g.buildChallenge(models.OTPPurposeLogin, issue, err, user)

			g.metrics.GateDecision(gateLogin, metrics.DecisionChallenged)
			g.challenge(w, r, sess, challenge)
		})
	}
}

// RequireAction gates a route behind MFA for a fixed action name.
func (g *MFAGate) RequireAction(action string) func(next http.Handler) http.Handler {
	return g.RequireActionFunc(func(*http.Request) string { return action })
}

// RequireActionFunc gates a route behind MFA for an action resolved per
// request, e.g. from a URL parameter. An empty action gates on login trust.
func (g *MFAGate) RequireActionFunc(resolve func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user := CurrentUser(r)
			if user == nil {
				g.metrics.GateDecision(gateAction, metrics.DecisionUnauthorized)
				g.redirectToLogin(w, r)
				return
			}

			sess := session.FromContext(ctx)
			if sess == nil {
				g.logger.Error("action gate mounted without session middleware")
				pkghttp.WriteInternalError(w, "session unavailable")
				return
			}

			action := resolve(r)
			if action != "" && !g.policy.RequiresMFAForAction(action, user) {
				decision := metrics.DecisionPassthrough
				if !g.policy.ResolveAction(action).IsRegistered() {
					decision = metrics.DecisionFailOpen
				}
				g.metrics.GateDecision(gateAction, decision)
				next.ServeHTTP(w, r)
				return
			}

			if g.trust.IsValid(ctx, sess, user.ID, session.ScopeFor(action)) {
				g.metrics.GateDecision(gateAction, metrics.DecisionPassthrough)
				next.ServeHTTP(w, r)
				return
			}

			var (
				issue     *models.OTPIssue
				err       error
				challenge models.MFAChallenge
			)
			if action == "" {
				g.rememberIntent(ctx, sess, r, models.OTPPurposeLogin, "")
				issue, err = g.otp.GenerateLoginOTP(ctx, user, g.requestMetadata(r))
				challenge = g.buildChallenge(models.OTPPurposeLogin, issue, err, user)
			} else {
				g.rememberIntent(ctx, sess, r, models.OTPPurposeSensitiveAction, action)
				issue, err = g.otp.GenerateSensitiveActionOTP(ctx, user, action, g.requestMetadata(r))
				challenge = g.buildChallenge(models.OTPPurposeSensitiveAction, issue, err, user).
					WithAction(g.policy.ResolveAction(action))
			}

			g.metrics.GateDecision(gateAction, metrics.DecisionChallenged)
			g.challenge(w, r, sess, challenge)
		})
	}
}

func (g *MFAGate) isExemptPath(path string) bool {
	for _, exempt := range g.config.ExemptPaths {
		if path == exempt || strings.HasPrefix(path, strings.TrimSuffix(exempt, "/")+"/") {
			return true
		}
	}
	return false
}

// rememberIntent records where to send the user after a successful verify and
// which challenge is pending. Session write failures are logged; the
// challenge still goes out.
func (g *MFAGate) rememberIntent(ctx context.Context, sess *session.Session, r *http.Request, purpose models.OTPPurpose, action string) {
	if err := sess.Put(ctx, session.KeyIntendedURL, IntendedURL(r)); err != nil {
		g.logger.Error("failed to store intended url", slog.String("error", err.Error()))
	}
	if err := sess.Put(ctx, session.KeyPendingPurpose, string(purpose)); err != nil {
		g.logger.Error("failed to store pending purpose", slog.String("error", err.Error()))
	}

	var err error
	if action == "" {
		err = sess.Forget(ctx, session.KeyIntendedAction)
	} else {
		err = sess.Put(ctx, session.KeyIntendedAction, action)
	}
	if err != nil {
		g.logger.Error("failed to store intended action", slog.String("error", err.Error()))
	}
}

// IntendedURL is where the user returns after verification. Safe requests
// return to themselves; form posts return to the page that submitted them.
func IntendedURL(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return r.URL.RequestURI()
	}
	return pkghttp.LocalPath(r.Referer(), r.Host, "/")
}

func (g *MFAGate) requestMetadata(r *http.Request) models.OTPMetadata {
	return models.OTPMetadata{
		"url":        r.URL.RequestURI(),
		"method":     r.Method,
		"ip_address": pkghttp.ExtractClientIP(r, g.config.IPConfig),
		"user_agent": r.UserAgent(),
	}
}

func (g *MFAGate) buildChallenge(purpose models.OTPPurpose, issue *models.OTPIssue, err error, user *models.User) models.MFAChallenge {
	switch {
	case err == nil:
		return models.NewMFAChallenge(purpose, issue, "")
	case errors.Is(err, models.ErrDeliveryFailed):
		g.logger.Warn("otp delivery failed during gate challenge",
			slog.String("user_id", user.ID),
			slog.String("purpose", string(purpose)),
		)
		return models.NewMFAChallenge(purpose, issue, msgDeliveryFailed)
	default:
		g.logger.Error("failed to issue otp during gate challenge",
			slog.String("user_id", user.ID),
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
		return models.NewMFAChallenge(purpose, nil, msgGenerationFailed)
	}
}

// challenge flashes the payload and sends the client to the verify page
func (g *MFAGate) challenge(w http.ResponseWriter, r *http.Request, sess *session.Session, challenge models.MFAChallenge) {
	if err := sess.PutJSON(r.Context(), session.KeyChallenge, challenge); err != nil {
		g.logger.Error("failed to flash mfa challenge", slog.String("error", err.Error()))
	}

	if pkghttp.WantsJSON(r) {
		pkghttp.WriteJSON(w, http.StatusForbidden, mfaRequiredResponse{
			Error:     "mfa_required",
			Redirect:  g.config.VerifyURL,
			Challenge: challenge,
		})
		return
	}

	http.Redirect(w, r, g.config.VerifyURL, http.StatusFound)
}

func (g *MFAGate) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if pkghttp.WantsJSON(r) {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	http.Redirect(w, r, g.config.LoginURL, http.StatusFound)
}
