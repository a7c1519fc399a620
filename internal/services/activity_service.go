package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/dealerdesk/internal/models"
)

// ActivityLogRepository persists activity entries
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) (*models.ActivityLog, error)
}

// ActivityEntry is one event to record in the activity log
type ActivityEntry struct {
	UserID      string
	Action      string
	Description string
	IPAddress   string
	UserAgent   string
	Properties  models.ActivityProperties
}

// ActivityService writes MFA events to slog and to the activity log table
type ActivityService struct {
	repo   ActivityLogRepository
	logger *slog.Logger
}

// NewActivityService creates a new ActivityService
func NewActivityService(repo ActivityLogRepository, logger *slog.Logger) *ActivityService {
	return &ActivityService{
		repo:   repo,
		logger: logger,
	}
}

// Record logs the entry and persists it. Persistence failures are logged and
// swallowed so activity logging never blocks an MFA flow.
func (s *ActivityService) Record(ctx context.Context, entry ActivityEntry) {
	s.logger.InfoContext(ctx, "activity",
		slog.String("module", models.ActivityModuleMFA),
		slog.String("action", entry.Action),
		slog.String("user_id", entry.UserID),
		slog.Any("properties", entry.Properties),
	)

	log := &models.ActivityLog{
		Action:      entry.Action,
		Module:      models.ActivityModuleMFA,
		Description: entry.Description,
		Properties:  entry.Properties,
	}
	if entry.UserID != "" {
		log.UserID = &entry.UserID
	}
	if entry.IPAddress != "" {
		log.IPAddress = &entry.IPAddress
	}
	if entry.UserAgent != "" {
		log.UserAgent = &entry.UserAgent
	}

	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist activity log",
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
	}
}
