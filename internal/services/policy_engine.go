package services

import (
	"log/slog"
	"slices"

	"github.com/BradenHooton/dealerdesk/internal/models"
)

// PolicyConfig holds the login MFA toggle and the roles it applies to
type PolicyConfig struct {
	LoginEnabled bool
	LoginRoles   []string // Empty = every role
}

// PolicyEngine decides which users and actions need MFA. It does no I/O.
type PolicyEngine struct {
	config PolicyConfig
	logger *slog.Logger
}

func NewPolicyEngine(config PolicyConfig, logger *slog.Logger) *PolicyEngine {
	return &PolicyEngine{config: config, logger: logger}
}

// RequiresMFAForLogin is true when login MFA is on, the user is not exempt,
// and the user's role is covered.
func (p *PolicyEngine) RequiresMFAForLogin(user *models.User) bool {
	if user == nil || !p.config.LoginEnabled || user.MFAExempt {
		return false
	}
	return len(p.config.LoginRoles) == 0 || slices.Contains(p.config.LoginRoles, user.Role)
}

// RequiresMFAForAction is true for registered actions that are not exempt.
// Names missing from the registry are allowed through without MFA.
func (p *PolicyEngine) RequiresMFAForAction(action string, user *models.User) bool {
	resolved := p.ResolveAction(action)

	if !resolved.IsRegistered() {
		// fail-open is the policy for names outside the registry
		attrs := []any{slog.String("action", action), slog.String("policy", "fail_open")}
		if user != nil {
			attrs = append(attrs, slog.String("user_id", user.ID))
		}
		p.logger.Debug("unregistered action allowed without mfa", attrs...)
		return false
	}

	return resolved.RequiresMFA
}

// ResolveAction looks an action name up in the registry
func (p *PolicyEngine) ResolveAction(name string) models.Action {
	return models.LookupAction(name)
}
