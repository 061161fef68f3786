package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/lifeplannerdev/lpcrm/internal/models"
)

type activityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
}

// ActivityService records platform activity entries. Recording is
// best-effort: a failed write is logged and never propagated, so audit
// noise cannot fail the mutation that produced it.
type ActivityService struct {
	repo   activityLogRepository
	logger *zap.Logger
}

// NewActivityService constructs an ActivityService.
func NewActivityService(repo activityLogRepository, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{repo: repo, logger: logger}
}

// Record appends an activity entry for the given user.
func (s *ActivityService) Record(ctx context.Context, userID string, activityType, description string) {
	entry := &models.ActivityLog{
		ActivityType: activityType,
		Description:  description,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record activity",
			zap.String("activity_type", activityType),
			zap.Error(err))
	}
}
