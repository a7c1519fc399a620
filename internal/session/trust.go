package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/dealerdesk/pkg/clock"
)

const trustKeyPrefix = "mfa.trust."

type scopeKind int

const (
	scopeLogin scopeKind = iota
	scopeAction
)

// Scope names what a trust record covers: the login itself, or one named
// sensitive action.
type Scope struct {
	kind   scopeKind
	action string
}

func LoginScope() Scope {
	return Scope{kind: scopeLogin}
}

func ActionScope(name string) Scope {
	return Scope{kind: scopeAction, action: name}
}

// ScopeFor maps an optional action name to a scope; empty means login.
func ScopeFor(action string) Scope {
	if action == "" {
		return LoginScope()
	}
	return ActionScope(action)
}

func (s Scope) IsLogin() bool {
	return s.kind == scopeLogin
}

// Action returns the action name, empty for the login scope.
func (s Scope) Action() string {
	return s.action
}

func (s Scope) String() string {
	if s.IsLogin() {
		return "login"
	}
	return "action:" + s.action
}

func (s Scope) sessionKey() string {
	return trustKeyPrefix + s.String()
}

// TrustWindows bounds how long a verification stays trusted.
type TrustWindows struct {
	Login  time.Duration
	Action time.Duration
}

// TrustStore records when a session last passed MFA for a scope and which
// user passed it. Records are last-write-wins and are evicted lazily when
// read past their window or by a different user.
type TrustStore struct {
	windows TrustWindows
	clock   clock.Clocker
	logger  *slog.Logger
}

// trustRecord is stored as "<user id>:<unix nanos>"
type trustRecord struct {
	userID     string
	verifiedAt time.Time
}

func (r trustRecord) encode() string {
	return r.userID + ":" + strconv.FormatInt(r.verifiedAt.UnixNano(), 10)
}

func decodeTrustRecord(raw string) (trustRecord, bool) {
	i := strings.LastIndexByte(raw, ':')
	if i <= 0 {
		return trustRecord{}, false
	}
	nanos, err := strconv.ParseInt(raw[i+1:], 10, 64)
	if err != nil {
		return trustRecord{}, false
	}
	return trustRecord{userID: raw[:i], verifiedAt: time.Unix(0, nanos)}, true
}

func NewTrustStore(windows TrustWindows, clk clock.Clocker, logger *slog.Logger) *TrustStore {
	return &TrustStore{windows: windows, clock: clk, logger: logger}
}

// Window returns the trust window that applies to scope.
func (t *TrustStore) Window(scope Scope) time.Duration {
	if scope.IsLogin() {
		return t.windows.Login
	}
	return t.windows.Action
}

// IsValid reports whether userID verified scope in sess within its window.
// The window is inclusive. Expired records and records left by another user
// are forgotten. Store failures count as untrusted.
func (t *TrustStore) IsValid(ctx context.Context, sess *Session, userID string, scope Scope) bool {
	record, ok, err := t.read(ctx, sess, scope)
	if err != nil {
		t.logger.Warn("trust lookup failed",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		return false
	}

	if record.userID == userID && t.clock.Now().Sub(record.verifiedAt) <= t.Window(scope) {
		return true
	}

	if record.userID != userID {
		t.logger.Warn("discarding mfa trust held by another user",
			slog.String("scope", scope.String()),
			slog.String("user_id", userID),
		)
	}
	if err := sess.Forget(ctx, scope.sessionKey()); err != nil {
		t.logger.Warn("failed to evict trust record",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
	}
	return false
}

// MarkVerified stamps scope as verified now by userID.
func (t *TrustStore) MarkVerified(ctx context.Context, sess *Session, userID string, scope Scope) error {
	if userID == "" {
		return fmt.Errorf("failed to record mfa trust: missing user id")
	}
	record := trustRecord{userID: userID, verifiedAt: t.clock.Now()}
	if err := sess.Put(ctx, scope.sessionKey(), record.encode()); err != nil {
		return fmt.Errorf("failed to record mfa trust: %w", err)
	}
	return nil
}

func (t *TrustStore) Invalidate(ctx context.Context, sess *Session, scope Scope) error {
	if err := sess.Forget(ctx, scope.sessionKey()); err != nil {
		return fmt.Errorf("failed to invalidate mfa trust: %w", err)
	}
	return nil
}

// InvalidateAll drops every trust record in the session.
func (t *TrustStore) InvalidateAll(ctx context.Context, sess *Session) error {
	keys, err := sess.KeysWithPrefix(ctx, trustKeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list mfa trust: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := sess.Forget(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate mfa trust: %w", err)
	}
	return nil
}

// VerifiedAt returns when userID last verified scope, expired or not.
// A record held by another user reads as absent.
func (t *TrustStore) VerifiedAt(ctx context.Context, sess *Session, userID string, scope Scope) (time.Time, bool, error) {
	record, ok, err := t.read(ctx, sess, scope)
	if err != nil || !ok || record.userID != userID {
		return time.Time{}, false, err
	}
	return record.verifiedAt, true, nil
}

func (t *TrustStore) read(ctx context.Context, sess *Session, scope Scope) (trustRecord, bool, error) {
	raw, ok, err := sess.Get(ctx, scope.sessionKey())
	if err != nil || !ok {
		return trustRecord{}, false, err
	}

	record, ok := decodeTrustRecord(raw)
	if !ok {
		// Unreadable records are treated as absent and dropped.
		_ = sess.Forget(ctx, scope.sessionKey())
		return trustRecord{}, false, nil
	}
	return record, true, nil
}
