package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/services"
	pkghttp "github.com/BradenHooton/dealerdesk/pkg/http"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// UserStore is the user repository surface the account endpoints use
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListByRole(ctx context.Context, role string, limit, offset int) ([]*models.User, error)
	SetMFAExempt(ctx context.Context, id string, exempt bool) error
}

// ActivityReader reads back the activity log
type ActivityReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ActivityLog, error)
	ListByModule(ctx context.Context, module string, limit, offset int) ([]*models.ActivityLog, error)
}

// AccountHandler serves the pages that sit behind the MFA gates
type AccountHandler struct {
	users    UserStore
	activity ActivityReader
	recorder ActivityRecorder
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(users UserStore, activity ActivityReader, recorder ActivityRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		users:    users,
		activity: activity,
		recorder: recorder,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	MFAExempt bool   `json:"mfa_exempt"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Status:    u.Status,
		MFAExempt: u.MFAExempt,
	}
}

// ActivityLogResponse is one activity entry
type ActivityLogResponse struct {
	ID          string                    `json:"id"`
	UserID      *string                   `json:"user_id"`
	Action      string                    `json:"action"`
	Module      string                    `json:"module"`
	Description string                    `json:"description"`
	Properties  models.ActivityProperties `json:"properties"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// SetMFAExemptRequest is the body of PUT /users/{id}/mfa-exempt
type SetMFAExemptRequest struct {
	Exempt *bool `json:"exempt" validate:"required"`
}

// ActionAuthorizedResponse confirms the session may perform an action
type ActionAuthorizedResponse struct {
	Action      string `json:"action"`
	DisplayText string `json:"display_text"`
	Authorized  bool   `json:"authorized"`
}

// Me handles GET /me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// MyActivity handles GET /me/activity
func (h *AccountHandler) MyActivity(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	limit, offset := pagination(r)
	entries, err := h.activity.ListByUser(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list activity", slog.String("user_id", user.ID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to load activity")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toActivityResponses(entries))
}

// MFAActivity handles GET /activity/mfa. Managers and admins only.
func (h *AccountHandler) MFAActivity(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "admin", "manager") {
		return
	}

	limit, offset := pagination(r)
	entries, err := h.activity.ListByModule(r.Context(), models.ActivityModuleMFA, limit, offset)
	if err != nil {
		h.logger.Error("failed to list mfa activity", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to load activity")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toActivityResponses(entries))
}

// ListUsers handles GET /users?role=. Managers and admins only.
func (h *AccountHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "admin", "manager") {
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		pkghttp.WriteBadRequest(w, "role is required")
		return
	}

	limit, offset := pagination(r)
	users, err := h.users.ListByRole(r.Context(), role, limit, offset)
	if err != nil {
		h.logger.Error("failed to list users", slog.String("role", role), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list users")
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// SetMFAExempt handles PUT /users/{id}/mfa-exempt. Admins only; the route
// sits behind the change_user_role action gate.
func (h *AccountHandler) SetMFAExempt(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "admin") {
		return
	}
	actor := auth.CurrentUser(r)
	targetID := chi.URLParam(r, "id")

	var req SetMFAExemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.users.SetMFAExempt(ctx, targetID, *req.Exempt); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		h.logger.Error("failed to update mfa exemption", slog.String("target_id", targetID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to update user")
		return
	}

	h.recorder.Record(ctx, services.ActivityEntry{
		UserID:      actor.ID,
		Action:      models.ActivityExemptionChanged,
		Description: "Login MFA exemption changed",
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:   r.UserAgent(),
		Properties:  models.ActivityProperties{"target_user_id": targetID, "exempt": *req.Exempt},
	})

	updated, err := h.users.GetByID(ctx, targetID)
	if err != nil {
		h.logger.Error("failed to reload user", slog.String("target_id", targetID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to load user")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(updated))
}

// ConfirmAction handles POST /actions/{action}/confirm. Reaching it means the
// action gate let the request through, so the session may go ahead.
func (h *AccountHandler) ConfirmAction(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}
	action := models.LookupAction(chi.URLParam(r, "action"))

	h.recorder.Record(r.Context(), services.ActivityEntry{
		UserID:      user.ID,
		Action:      models.ActivityActionAuthorized,
		Description: action.DisplayText + " authorized",
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:   r.UserAgent(),
		Properties:  models.ActivityProperties{"action": string(action.Name), "registered": action.IsRegistered()},
	})

	pkghttp.WriteJSON(w, http.StatusOK, ActionAuthorizedResponse{
		Action:      string(action.Name),
		DisplayText: action.DisplayText,
		Authorized:  true,
	})
}

func (h *AccountHandler) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	user := auth.CurrentUser(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return false
	}
	if !slices.Contains(roles, user.Role) {
		pkghttp.WriteForbidden(w, "insufficient role")
		return false
	}
	return true
}

func toActivityResponses(entries []*models.ActivityLog) []ActivityLogResponse {
	resp := make([]ActivityLogResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ActivityLogResponse{
			ID:          e.ID,
			UserID:      e.UserID,
			Action:      e.Action,
			Module:      e.Module,
			Description: e.Description,
			Properties:  e.Properties,
			CreatedAt:   e.CreatedAt,
		})
	}
	return resp
}

// pagination reads limit and offset, clamping to sane bounds
func pagination(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
