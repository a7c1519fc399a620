package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/session"
	"github.com/BradenHooton/dealerdesk/pkg/clock"
)

// MockPolicy implements MFAPolicy
type MockPolicy struct {
	RequiresMFAForLoginFunc  func(user *models.User) bool
	RequiresMFAForActionFunc func(action string, user *models.User) bool
}

func (m *MockPolicy) RequiresMFAForLogin(user *models.User) bool {
	if m.RequiresMFAForLoginFunc != nil {
		return m.RequiresMFAForLoginFunc(user)
	}
	return true
}

func (m *MockPolicy) RequiresMFAForAction(action string, user *models.User) bool {
	if m.RequiresMFAForActionFunc != nil {
		return m.RequiresMFAForActionFunc(action, user)
	}
	return models.LookupAction(action).RequiresMFA
}

func (m *MockPolicy) ResolveAction(name string) models.Action {
	return models.LookupAction(name)
}

// MockIssuer implements ChallengeIssuer and records calls
type MockIssuer struct {
	GenerateLoginOTPFunc           func(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error)
	GenerateSensitiveActionOTPFunc func(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error)

	LoginCalls   int
	ActionCalls  []string
	LastMetadata models.OTPMetadata
}

func (m *MockIssuer) GenerateLoginOTP(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error) {
	m.LoginCalls++
	m.LastMetadata = meta
	if m.GenerateLoginOTPFunc != nil {
		return m.GenerateLoginOTPFunc(ctx, user, meta)
	}
	return &models.OTPIssue{
		CodeID:    "code-login",
		Purpose:   models.OTPPurposeLogin,
		ExpiresAt: testNow.Add(10 * time.Minute),
		Message:   "A verification code has been sent to your email.",
		Delivered: true,
	}, nil
}

func (m *MockIssuer) GenerateSensitiveActionOTP(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error) {
	m.ActionCalls = append(m.ActionCalls, action)
	m.LastMetadata = meta
	if m.GenerateSensitiveActionOTPFunc != nil {
		return m.GenerateSensitiveActionOTPFunc(ctx, user, action, meta)
	}
	return &models.OTPIssue{
		CodeID:    "code-action",
		Purpose:   models.OTPPurposeSensitiveAction,
		Action:    action,
		ExpiresAt: testNow.Add(10 * time.Minute),
		Message:   "A verification code has been sent to your email.",
		Delivered: true,
	}, nil
}

var testNow = time.Date(2025, 5, 5, 9, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gateFixture struct {
	gate   *MFAGate
	policy *MockPolicy
	issuer *MockIssuer
	trust  *session.TrustStore
	clock  *clock.Fixed
	sess   *session.Session
	user   *models.User
}

func newGateFixture() *gateFixture {
	clk := clock.NewFixed(testNow)
	trust := session.NewTrustStore(session.TrustWindows{Login: 24 * time.Hour, Action: 30 * time.Minute}, clk, discardLogger())
	policy := &MockPolicy{}
	issuer := &MockIssuer{}

	gate := NewMFAGate(policy, issuer, trust, GateConfig{
		LoginURL:    "/login",
		VerifyURL:   "/mfa/verify",
		ExemptPaths: []string{"/mfa/verify", "/mfa/send-code", "/logout"},
	}, nil, discardLogger())

	return &gateFixture{
		gate:   gate,
		policy: policy,
		issuer: issuer,
		trust:  trust,
		clock:  clk,
		sess:   session.New("sess-gate", session.NewMemoryStore(48*time.Hour)),
		user:   &models.User{ID: "user-1", Email: "rep@dealer.example", Role: "sales", Status: "active"},
	}
}

// request builds a request carrying the fixture's user and session
func (f *gateFixture) request(method, target string, authenticated bool) *http.Request {
	req, _ := http.NewRequest(method, target, nil)
	req.RemoteAddr = "198.51.100.7:40000"
	ctx := session.WithSession(req.Context(), f.sess)
	if authenticated {
		ctx = WithUser(ctx, f.user)
	}
	return req.WithContext(ctx)
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}
