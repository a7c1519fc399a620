package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/session"
	pkghttp "github.com/BradenHooton/dealerdesk/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req
}

// WithUserAndSession attaches an authenticated user and a session to the request
func WithUserAndSession(req *http.Request, user *models.User, sess *session.Session) *http.Request {
	ctx := req.Context()
	if user != nil {
		ctx = auth.WithUser(ctx, user)
	}
	if sess != nil {
		ctx = session.WithSession(ctx, sess)
	}
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockOTPService implements OTPService for testing
type MockOTPService struct {
	GenerateLoginOTPFunc           func(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error)
	GenerateSensitiveActionOTPFunc func(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error)
	VerifyFunc                     func(ctx context.Context, userID, code string, purpose models.OTPPurpose, action string) error
}

func (m *MockOTPService) GenerateLoginOTP(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error) {
	if m.GenerateLoginOTPFunc != nil {
		return m.GenerateLoginOTPFunc(ctx, user, meta)
	}
	return &models.OTPIssue{Purpose: models.OTPPurposeLogin, Delivered: true}, nil
}

func (m *MockOTPService) GenerateSensitiveActionOTP(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error) {
	if m.GenerateSensitiveActionOTPFunc != nil {
		return m.GenerateSensitiveActionOTPFunc(ctx, user, action, meta)
	}
	return &models.OTPIssue{Purpose: models.OTPPurposeSensitiveAction, Action: action, Delivered: true}, nil
}

func (m *MockOTPService) Verify(ctx context.Context, userID, code string, purpose models.OTPPurpose, action string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, code, purpose, action)
	}
	return nil
}

// MockPolicy implements MFAPolicy for testing
type MockPolicy struct {
	RequiresMFAForLoginFunc func(user *models.User) bool
}

func (m *MockPolicy) RequiresMFAForLogin(user *models.User) bool {
	if m.RequiresMFAForLoginFunc != nil {
		return m.RequiresMFAForLoginFunc(user)
	}
	return true
}

func (m *MockPolicy) ResolveAction(name string) models.Action {
	return models.LookupAction(name)
}

// MockUserStore implements UserStore for testing
type MockUserStore struct {
	GetByIDFunc      func(ctx context.Context, id string) (*models.User, error)
	ListByRoleFunc   func(ctx context.Context, role string, limit, offset int) ([]*models.User, error)
	SetMFAExemptFunc func(ctx context.Context, id string, exempt bool) error
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) ListByRole(ctx context.Context, role string, limit, offset int) ([]*models.User, error) {
	if m.ListByRoleFunc != nil {
		return m.ListByRoleFunc(ctx, role, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserStore) SetMFAExempt(ctx context.Context, id string, exempt bool) error {
	if m.SetMFAExemptFunc != nil {
		return m.SetMFAExemptFunc(ctx, id, exempt)
	}
	return nil
}

// MockActivityReader implements ActivityReader for testing
type MockActivityReader struct {
	ListByUserFunc   func(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityLog, error)
	ListByModuleFunc func(ctx context.Context, module string, limit, offset int) ([]*models.ActivityLog, error)
}

func (m *MockActivityReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityLog, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit, offset)
	}
	return []*models.ActivityLog{}, nil
}

func (m *MockActivityReader) ListByModule(ctx context.Context, module string, limit, offset int) ([]*models.ActivityLog, error) {
	if m.ListByModuleFunc != nil {
		return m.ListByModuleFunc(ctx, module, limit, offset)
	}
	return []*models.ActivityLog{}, nil
}

// WithChiURLParams adds chi route parameters to the request context
func WithChiURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
