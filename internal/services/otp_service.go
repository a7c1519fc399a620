package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/metrics"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/pkg/clock"
	"github.com/BradenHooton/dealerdesk/pkg/logger"
)

const (
	msgCodeSent           = "A verification code has been sent to your email."
	msgCodeDeliveryFailed = "We could not send a verification code. Use resend to try again."
)

// Verify outcomes, used as metric labels and activity properties
const (
	outcomeSuccess  = "success"
	outcomeInvalid  = "invalid"
	outcomeExpired  = "expired"
	outcomeConsumed = "consumed"
)

// OTPCodeRepository stores issued codes
type OTPCodeRepository interface {
	Issue(ctx context.Context, code *models.OTPCode) (*models.OTPCode, error)
	GetLatest(ctx context.Context, userID string, purpose models.OTPPurpose, action string) (*models.OTPCode, error)
	MarkConsumed(ctx context.Context, id string, at time.Time) error
}

// CodeGenerator draws plain one-time codes
type CodeGenerator interface {
	Generate() (string, error)
}

// CodeHasher hashes codes for storage and checks submissions against them
type CodeHasher interface {
	Hash(code string) string
	Matches(code, storedHash string) bool
}

// ActivityRecorder records MFA events in the activity log
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry)
}

// OTPConfig holds code lifetimes per purpose
type OTPConfig struct {
	LoginTTL  time.Duration
	ActionTTL time.Duration
}

func (c OTPConfig) ttl(purpose models.OTPPurpose) time.Duration {
	switch purpose {
	case models.OTPPurposeSensitiveAction:
		return c.ActionTTL
	default:
		return c.LoginTTL
	}
}

// OTPService issues single-use email codes and verifies submissions.
// Single use is enforced by the repository's conditional consume, so
// concurrent verifications of one code yield exactly one success.
type OTPService struct {
	repo      OTPCodeRepository
	generator CodeGenerator
	hasher    CodeHasher
	mailer    Mailer
	activity  ActivityRecorder
	clock     clock.Clocker
	metrics   *metrics.MFA
	config    OTPConfig
	logger    *slog.Logger
}

func NewOTPService(
	repo OTPCodeRepository,
	generator CodeGenerator,
	hasher CodeHasher,
	mailer Mailer,
	activity ActivityRecorder,
	clk clock.Clocker,
	m *metrics.MFA,
	config OTPConfig,
	logger *slog.Logger,
) *OTPService {
	return &OTPService{
		repo:      repo,
		generator: generator,
		hasher:    hasher,
		mailer:    mailer,
		activity:  activity,
		clock:     clk,
		metrics:   m,
		config:    config,
		logger:    logger,
	}
}

// GenerateLoginOTP issues a login code and mails it to the user
func (s *OTPService) GenerateLoginOTP(ctx context.Context, user *models.User, meta models.OTPMetadata) (*models.OTPIssue, error) {
	return s.generate(ctx, user, models.OTPPurposeLogin, "", meta)
}

// GenerateSensitiveActionOTP issues a code bound to one named action
func (s *OTPService) GenerateSensitiveActionOTP(ctx context.Context, user *models.User, action string, meta models.OTPMetadata) (*models.OTPIssue, error) {
	if action == "" {
		return nil, fmt.Errorf("sensitive action code requires an action: %w", models.ErrBadRequest)
	}
	return s.generate(ctx, user, models.OTPPurposeSensitiveAction, action, meta)
}

// generate stores a new code, superseding any outstanding one for the same
// tuple, then mails it. When mailing fails the code stays valid and the
// issue is returned together with an error wrapping ErrDeliveryFailed.
func (s *OTPService) generate(ctx context.Context, user *models.User, purpose models.OTPPurpose, action string, meta models.OTPMetadata) (*models.OTPIssue, error) {
	plain, err := s.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}

	if meta == nil {
		meta = models.OTPMetadata{}
	}

	now := s.clock.Now()
	code, err := s.repo.Issue(ctx, &models.OTPCode{
		CodeHash:    s.hasher.Hash(plain),
		Purpose:     purpose,
		Action:      action,
		OwnerUserID: user.ID,
		IPAddress:   meta["ip_address"],
		UserAgent:   meta["user_agent"],
		Metadata:    meta,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.ttl(purpose)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store otp: %w", err)
	}
	s.metrics.ChallengeIssued(string(purpose))

	issue := &models.OTPIssue{
		CodeID:    code.ID,
		Purpose:   purpose,
		Action:    action,
		ExpiresAt: code.ExpiresAt,
	}

	payload := map[string]any{
		"Code":      plain,
		"Name":      user.Name,
		"Purpose":   string(purpose),
		"ExpiresAt": code.ExpiresAt.UTC().Format("15:04 MST"),
	}
	if action != "" {
		payload["ActionText"] = models.LookupAction(action).DisplayText
	}

	properties := models.ActivityProperties{
		"code_id": code.ID,
		"purpose": string(purpose),
	}
	if action != "" {
		properties["action"] = action
	}

	if err := s.mailer.Deliver(ctx, TemplateOTP, user.Email, payload); err != nil {
		s.metrics.DeliveryFailed(string(purpose))
		s.logger.WarnContext(ctx, "otp delivery failed",
			slog.String("user_id", user.ID),
			slog.String("email", logger.SanitizedEmail(user.Email)),
			slog.String("purpose", string(purpose)),
			slog.Any("error", err),
		)
		s.activity.Record(ctx, ActivityEntry{
			UserID:      user.ID,
			Action:      models.ActivityOTPDeliveryFailed,
			Description: "Verification code could not be delivered",
			IPAddress:   code.IPAddress,
			UserAgent:   code.UserAgent,
			Properties:  properties,
		})

		issue.Message = msgCodeDeliveryFailed
		return issue, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}

	s.activity.Record(ctx, ActivityEntry{
		UserID:      user.ID,
		Action:      models.ActivityOTPSent,
		Description: describeIssue(purpose, action),
		IPAddress:   code.IPAddress,
		UserAgent:   code.UserAgent,
		Properties:  properties,
	})

	issue.Delivered = true
	issue.Message = msgCodeSent
	return issue, nil
}

func describeIssue(purpose models.OTPPurpose, action string) string {
	switch purpose {
	case models.OTPPurposeSensitiveAction:
		return "Verification code sent for " + models.LookupAction(action).DisplayText
	default:
		return "Login verification code sent"
	}
}

// Verify checks code against the newest code issued for the tuple and
// consumes it. A wrong code changes nothing. A code is accepted up to and
// including its expiry instant.
func (s *OTPService) Verify(ctx context.Context, userID, code string, purpose models.OTPPurpose, action string) error {
	if !purpose.Valid() {
		return fmt.Errorf("unknown otp purpose %q: %w", purpose, models.ErrBadRequest)
	}
	if purpose != models.OTPPurposeSensitiveAction {
		action = ""
	}
	code = strings.TrimSpace(code)

	latest, err := s.repo.GetLatest(ctx, userID, purpose, action)
	if errors.Is(err, models.ErrNotFound) {
		return s.reject(ctx, userID, purpose, action, outcomeInvalid, models.ErrOTPInvalidCode)
	}
	if err != nil {
		return fmt.Errorf("failed to load otp: %w", err)
	}

	if code == "" || latest.IsSuperseded() || !s.hasher.Matches(code, latest.CodeHash) {
		return s.reject(ctx, userID, purpose, action, outcomeInvalid, models.ErrOTPInvalidCode)
	}

	if latest.IsConsumed() {
		return s.reject(ctx, userID, purpose, action, outcomeConsumed, models.ErrOTPAlreadyConsumed)
	}

	now := s.clock.Now()
	if latest.IsExpiredAt(now) {
		return s.reject(ctx, userID, purpose, action, outcomeExpired, models.ErrOTPExpired)
	}

	if err := s.repo.MarkConsumed(ctx, latest.ID, now); err != nil {
		if errors.Is(err, models.ErrOTPAlreadyConsumed) {
			return s.reject(ctx, userID, purpose, action, outcomeConsumed, models.ErrOTPAlreadyConsumed)
		}
		return fmt.Errorf("failed to consume otp: %w", err)
	}

	s.metrics.VerifyOutcome(string(purpose), outcomeSuccess)
	properties := models.ActivityProperties{"code_id": latest.ID, "purpose": string(purpose)}
	if action != "" {
		properties["action"] = action
	}
	s.activity.Record(ctx, ActivityEntry{
		UserID:      userID,
		Action:      models.ActivityOTPVerified,
		Description: "Verification code accepted",
		Properties:  properties,
	})

	return nil
}

func (s *OTPService) reject(ctx context.Context, userID string, purpose models.OTPPurpose, action, outcome string, err error) error {
	s.metrics.VerifyOutcome(string(purpose), outcome)
	s.logger.InfoContext(ctx, "otp rejected",
		slog.String("user_id", userID),
		slog.String("purpose", string(purpose)),
		slog.String("outcome", outcome),
	)

	properties := models.ActivityProperties{"purpose": string(purpose), "outcome": outcome}
	if action != "" {
		properties["action"] = action
	}
	s.activity.Record(ctx, ActivityEntry{
		UserID:      userID,
		Action:      models.ActivityOTPRejected,
		Description: "Verification code rejected",
		Properties:  properties,
	})

	return err
}
