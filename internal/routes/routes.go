package routes

import (
	"net/http"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	"github.com/BradenHooton/dealerdesk/internal/handlers"
	"github.com/BradenHooton/dealerdesk/internal/middleware"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/go-chi/chi/v5"
)

// Route names used by redirects and the gates
const (
	NameLogin           = "login"
	NameLogout          = "logout"
	NameMFAVerify       = "mfa.verify"
	NameMFASendCode     = "mfa.send-code"
	NameMFAVerifySubmit = "mfa.verify.submit"
	NameMFAStatus       = "mfa.status"
	NameMFARevoke       = "mfa.revoke"
)

var paths = map[string]string{
	NameLogin:           "/login",
	NameLogout:          "/logout",
	NameMFAVerify:       "/mfa/verify",
	NameMFASendCode:     "/mfa/send-code",
	NameMFAVerifySubmit: "/mfa/verify",
	NameMFAStatus:       "/mfa/status",
	NameMFARevoke:       "/mfa/revoke",
}

// Path returns the path registered for a route name, or "" if unknown
func Path(name string) string {
	return paths[name]
}

// MFAFlowPaths are the paths the login gate lets through untouched: the
// verification flow itself and logout.
func MFAFlowPaths() []string {
	return []string{"/mfa", Path(NameLogout)}
}

// Dependencies bundles what RegisterRoutes wires together
type Dependencies struct {
	Sessions     func(http.Handler) http.Handler
	Authenticate func(http.Handler) http.Handler
	Gate         *auth.MFAGate
	MFA          *handlers.MFAHandler
	Account      *handlers.AccountHandler
	Metrics      http.Handler
	Health       http.HandlerFunc
	SendCodeRate middleware.RateLimitConfig
	VerifyRate   middleware.RateLimitConfig
	MFAIPRate    middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	if deps.Health != nil {
		router.Get("/health", deps.Health)
	}
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(deps.Sessions)
		r.Use(deps.Authenticate)

		r.Post(Path(NameLogout), deps.MFA.Logout)

		// Verification flow; exempt from the login gate by path
		r.Route("/mfa", func(r chi.Router) {
			r.Use(middleware.NoStore)
			// one per-IP budget shared by send and submit, then a per-user one each
			perIP := middleware.RateLimitByIP(deps.MFAIPRate)

			r.Get("/verify", deps.MFA.ShowChallenge)
			r.With(perIP, middleware.RateLimitByUser(deps.SendCodeRate)).Post("/send-code", deps.MFA.SendCode)
			r.With(perIP, middleware.RateLimitByUser(deps.VerifyRate)).Post("/verify", deps.MFA.SubmitCode)
			r.Get("/status", deps.MFA.Status)
			r.Post("/revoke", deps.MFA.RevokeTrust)
		})

		// Everything below needs a login-verified session
		r.Group(func(r chi.Router) {
			r.Use(deps.Gate.LoginGate())

			r.Get("/me", deps.Account.Me)
			r.Get("/me/activity", deps.Account.MyActivity)
			r.Get("/users", deps.Account.ListUsers)

			r.With(deps.Gate.RequireAction(string(models.ActionViewActivityLog))).
				Get("/activity/mfa", deps.Account.MFAActivity)
			r.With(deps.Gate.RequireAction(string(models.ActionChangeUserRole))).
				Put("/users/{id}/mfa-exempt", deps.Account.SetMFAExempt)
			r.With(deps.Gate.RequireActionFunc(func(r *http.Request) string {
				return chi.URLParam(r, "action")
			})).Post("/actions/{action}/confirm", deps.Account.ConfirmAction)
		})
	})
}
