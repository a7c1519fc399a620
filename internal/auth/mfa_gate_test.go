package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flashedChallenge(t *testing.T, f *gateFixture) models.MFAChallenge {
	t.Helper()
	var c models.MFAChallenge
	ok, err := f.sess.GetJSON(context.Background(), session.KeyChallenge, &c)
	require.NoError(t, err)
	require.True(t, ok, "challenge should be flashed into the session")
	return c
}

func sessionValue(t *testing.T, f *gateFixture, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.sess.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func TestLoginGate_Unauthenticated_RedirectsToLogin(t *testing.T) {
	f := newGateFixture()
	called := false

	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", false))

	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Equal(t, 0, f.issuer.LoginCalls)
}

func TestLoginGate_Unauthenticated_JSON(t *testing.T) {
	f := newGateFixture()
	called := false

	req := f.request(http.MethodGet, "/inventory", false)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginGate_ExemptPath_PassesThrough(t *testing.T) {
	f := newGateFixture()

	for _, path := range []string{"/mfa/verify", "/mfa/send-code", "/logout"} {
		called := false
		rec := httptest.NewRecorder()
		f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, path, true))

		assert.True(t, called, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, 0, f.issuer.LoginCalls)
}

func TestLoginGate_PolicyNotRequired_PassesThrough(t *testing.T) {
	f := newGateFixture()
	f.policy.RequiresMFAForLoginFunc = func(*models.User) bool { return false }
	called := false

	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", true))

	assert.True(t, called)
	assert.Equal(t, 0, f.issuer.LoginCalls)
}

func TestLoginGate_TrustedSession_PassesThrough(t *testing.T) {
	f := newGateFixture()
	require.NoError(t, f.trust.MarkVerified(context.Background(), f.sess, f.user.ID, session.LoginScope()))
	called := false

	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", true))

	assert.True(t, called)
	assert.Equal(t, 0, f.issuer.LoginCalls)
}

func TestLoginGate_TrustFromAnotherUser_IssuesChallenge(t *testing.T) {
	f := newGateFixture()
	require.NoError(t, f.trust.MarkVerified(context.Background(), f.sess, f.user.ID, session.LoginScope()))
	f.user = &models.User{ID: "user-2", Email: "other@dealer.example", Role: "sales", Status: "active"}
	called := false

	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", true))

	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, 1, f.issuer.LoginCalls)
}

func TestActionGate_TrustFromAnotherUser_IssuesChallenge(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	require.NoError(t, f.trust.MarkVerified(ctx, f.sess, f.user.ID, session.ActionScope("delete_user")))
	first := f.user
	f.user = &models.User{ID: "user-2", Email: "other@dealer.example", Role: "sales", Status: "active"}
	called := false

	rec := httptest.NewRecorder()
	f.gate.RequireAction("delete_user")(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodPost, "/users/42", true))

	assert.False(t, called)
	assert.Equal(t, []string{"delete_user"}, f.issuer.ActionCalls)
	assert.False(t, f.trust.IsValid(ctx, f.sess, first.ID, session.ActionScope("delete_user")),
		"the other user's record is discarded")
}

func TestLoginGate_NoTrust_IssuesChallenge(t *testing.T) {
	f := newGateFixture()
	called := false

	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory?lot=north", true))

	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/mfa/verify", rec.Header().Get("Location"))
	assert.Equal(t, 1, f.issuer.LoginCalls)

	intended, ok := sessionValue(t, f, session.KeyIntendedURL)
	assert.True(t, ok)
	assert.Equal(t, "/inventory?lot=north", intended)

	purpose, _ := sessionValue(t, f, session.KeyPendingPurpose)
	assert.Equal(t, "login", purpose)

	c := flashedChallenge(t, f)
	assert.True(t, c.OTPSent)
	assert.Equal(t, models.OTPPurposeLogin, c.Purpose)
	require.NotNil(t, c.ExpiresAt)
	assert.True(t, c.ExpiresAt.Equal(testNow.Add(10*time.Minute)))
	assert.Nil(t, c.Action)
}

func TestLoginGate_ExpiredTrust_IssuesChallenge(t *testing.T) {
	f := newGateFixture()
	require.NoError(t, f.trust.MarkVerified(context.Background(), f.sess, f.user.ID, session.LoginScope()))
	f.clock.Advance(24*time.Hour + time.Minute)
	called := false

	rec := httptest.NewRecorder()
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", true))

	assert.False(t, called)
	assert.Equal(t, 1, f.issuer.LoginCalls)
}

func TestLoginGate_DeliveryFailure_StillChallenges(t *testing.T) {
	f := newGateFixture()
	f.issuer.GenerateLoginOTPFunc = func(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error) {
		issue := &models.OTPIssue{CodeID: "c", Purpose: models.OTPPurposeLogin, ExpiresAt: testNow.Add(10 * time.Minute)}
		return issue, models.ErrDeliveryFailed
	}

	rec := httptest.NewRecorder()
	called := false
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", true))

	assert.Equal(t, http.StatusFound, rec.Code)
	c := flashedChallenge(t, f)
	assert.False(t, c.OTPSent)
	assert.NotNil(t, c.ExpiresAt, "code exists even though mail failed")
	assert.Equal(t, msgDeliveryFailed, c.Message)
}

func TestLoginGate_GenerationError_StillRedirects(t *testing.T) {
	f := newGateFixture()
	f.issuer.GenerateLoginOTPFunc = func(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error) {
		return nil, errors.New("db down")
	}

	rec := httptest.NewRecorder()
	called := false
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/inventory", true))

	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	c := flashedChallenge(t, f)
	assert.False(t, c.OTPSent)
	assert.Nil(t, c.ExpiresAt)
	assert.Equal(t, msgGenerationFailed, c.Message)
}

func TestLoginGate_JSONClient_Gets403(t *testing.T) {
	f := newGateFixture()

	req := f.request(http.MethodGet, "/api/deals", true)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	called := false
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body mfaRequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "mfa_required", body.Error)
	assert.Equal(t, "/mfa/verify", body.Redirect)
	assert.True(t, body.Challenge.OTPSent)
}

func TestLoginGate_MissingSession_500(t *testing.T) {
	f := newGateFixture()
	req, _ := http.NewRequest(http.MethodGet, "/inventory", nil)
	req = req.WithContext(WithUser(req.Context(), f.user))

	rec := httptest.NewRecorder()
	called := false
	f.gate.LoginGate()(okHandler(&called)).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireAction_GatedWithoutTrust_AlwaysChallenges(t *testing.T) {
	for _, a := range models.RegisteredActions() {
		t.Run(string(a.Name), func(t *testing.T) {
			f := newGateFixture()
			called := false

			rec := httptest.NewRecorder()
			f.gate.RequireAction(string(a.Name))(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/admin/thing", true))

			assert.False(t, called)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, []string{string(a.Name)}, f.issuer.ActionCalls)

			c := flashedChallenge(t, f)
			assert.Equal(t, models.OTPPurposeSensitiveAction, c.Purpose)
			require.NotNil(t, c.Action)
			assert.Equal(t, string(a.Name), *c.Action)
			require.NotNil(t, c.ActionText)
			assert.Equal(t, a.DisplayText, *c.ActionText)
		})
	}
}

func TestRequireAction_Unauthenticated_RedirectsToLogin(t *testing.T) {
	f := newGateFixture()
	called := false

	rec := httptest.NewRecorder()
	f.gate.RequireAction("delete_user")(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodPost, "/users/9/delete", false))

	assert.False(t, called)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Empty(t, f.issuer.ActionCalls)
}

func TestRequireAction_UnregisteredAction_FailsOpen(t *testing.T) {
	f := newGateFixture()
	called := false

	rec := httptest.NewRecorder()
	f.gate.RequireAction("foo_bar")(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodPost, "/foo", true))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.issuer.ActionCalls)

	_, flashed := sessionValue(t, f, session.KeyChallenge)
	assert.False(t, flashed)
}

func TestRequireAction_ExemptAction_PassesThrough(t *testing.T) {
	f := newGateFixture()
	called := false

	rec := httptest.NewRecorder()
	f.gate.RequireAction("view_reports")(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/reports", true))

	assert.True(t, called)
	assert.Empty(t, f.issuer.ActionCalls)
}

func TestRequireAction_TrustWindow(t *testing.T) {
	f := newGateFixture()
	require.NoError(t, f.trust.MarkVerified(context.Background(), f.sess, f.user.ID, session.ActionScope("delete_vehicle")))
	handler := func() (*httptest.ResponseRecorder, bool) {
		called := false
		rec := httptest.NewRecorder()
		f.gate.RequireAction("delete_vehicle")(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/vehicles/3/delete", true))
		return rec, called
	}

	f.clock.Advance(30 * time.Minute)
	_, called := handler()
	assert.True(t, called, "trusted at exactly the window")

	f.clock.Advance(time.Minute)
	rec, called := handler()
	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, []string{"delete_vehicle"}, f.issuer.ActionCalls)
}

func TestRequireAction_LoginTrustDoesNotCoverActions(t *testing.T) {
	f := newGateFixture()
	require.NoError(t, f.trust.MarkVerified(context.Background(), f.sess, f.user.ID, session.LoginScope()))
	called := false

	rec := httptest.NewRecorder()
	f.gate.RequireAction("delete_user")(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/users/1/delete", true))

	assert.False(t, called)
	assert.Equal(t, []string{"delete_user"}, f.issuer.ActionCalls)
}

func TestRequireAction_StoresIntentAndMetadata(t *testing.T) {
	f := newGateFixture()

	req := f.request(http.MethodPost, "/users/9/delete", true)
	req.Host = "dealer.example"
	req.Header.Set("Referer", "http://dealer.example/users/9")
	req.Header.Set("User-Agent", "showroom-browser/1.0")
	rec := httptest.NewRecorder()
	called := false
	f.gate.RequireAction("delete_user")(okHandler(&called)).ServeHTTP(rec, req)

	intended, _ := sessionValue(t, f, session.KeyIntendedURL)
	assert.Equal(t, "/users/9", intended, "posts return to the submitting page")

	action, _ := sessionValue(t, f, session.KeyIntendedAction)
	assert.Equal(t, "delete_user", action)

	purpose, _ := sessionValue(t, f, session.KeyPendingPurpose)
	assert.Equal(t, "sensitive_action", purpose)

	assert.Equal(t, "/users/9/delete", f.issuer.LastMetadata["url"])
	assert.Equal(t, "showroom-browser/1.0", f.issuer.LastMetadata["user_agent"])
	assert.Equal(t, "198.51.100.7", f.issuer.LastMetadata["ip_address"])
}

func TestRequireActionFunc_EmptyAction_UsesLoginScope(t *testing.T) {
	f := newGateFixture()
	gate := f.gate.RequireActionFunc(func(*http.Request) string { return "" })

	called := false
	rec := httptest.NewRecorder()
	gate(okHandler(&called)).ServeHTTP(rec, f.request(http.MethodGet, "/dashboard", true))
	assert.False(t, called)
	assert.Equal(t, 1, f.issuer.LoginCalls)
	assert.Empty(t, f.issuer.ActionCalls)

	require.NoError(t, f.trust.MarkVerified(context.Background(), f.sess, f.user.ID, session.LoginScope()))
	called = false
	gate(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), f.request(http.MethodGet, "/dashboard", true))
	assert.True(t, called)
}

func TestIntendedURL(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "http://dealer.example/deals/5?tab=docs", nil)
	assert.Equal(t, "/deals/5?tab=docs", IntendedURL(get))

	post := httptest.NewRequest(http.MethodPost, "http://dealer.example/deals/5/delete", nil)
	assert.Equal(t, "/", IntendedURL(post))

	post.Header.Set("Referer", "https://evil.example/")
	assert.Equal(t, "/", IntendedURL(post))
}
