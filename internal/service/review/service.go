package review

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
)

// Submission is one human correction for an extracted item.
type Submission struct {
	TenantID                string
	ItemID                  string
	CorrectedText           string
	CorrectedStructuredData json.RawMessage
	ReviewNotes             string
	ReviewerConfidence      float64
	ReviewedByUserID        string
}

// Service handles the human-review flow: queue listing and correction
// submission. Corrections are additive; the item's raw_text is never
// touched.
type Service struct {
	items   repository.ItemRepository
	reviews repository.ReviewRepository
	audit   audit.Sink
	logger  logger.Logger
}

func NewService(
	items repository.ItemRepository,
	reviews repository.ReviewRepository,
	sink audit.Sink,
	log logger.Logger,
) *Service {
	return &Service{
		items:   items,
		reviews: reviews,
		audit:   sink,
		logger:  log,
	}
}

// SubmitReview records a correction against an item and marks the item
// reviewed. Lookups are tenant-scoped: an item belonging to another
// tenant is indistinguishable from a missing one.
func (s *Service) SubmitReview(ctx context.Context, sub *Submission) (*models.HumanReview, error) {
	if err := s.validate(sub); err != nil {
		return nil, err
	}

	item, err := s.items.GetItem(ctx, sub.TenantID, sub.ItemID)
	if err != nil {
		return nil, err
	}

	review := &models.HumanReview{
		ID:                      uuid.New().String(),
		TenantID:                sub.TenantID,
		DocumentItemID:          item.ID,
		CorrectedText:           sub.CorrectedText,
		CorrectedStructuredData: sub.CorrectedStructuredData,
		ReviewNotes:             sub.ReviewNotes,
		ReviewerConfidence:      sub.ReviewerConfidence,
		ReviewedByUserID:        sub.ReviewedByUserID,
		CompletedAt:             time.Now().UTC(),
	}
	if err := s.reviews.CreateReview(ctx, review); err != nil {
		return nil, common.WrapError(err, "failed to create review")
	}

	if err := s.items.MarkItemReviewed(ctx, sub.TenantID, item.ID); err != nil {
		return nil, common.WrapError(err, "failed to mark item reviewed")
	}

	if err := s.audit.EmitEvent(ctx, audit.Event{
		Type:       audit.EventItemReviewed,
		TenantID:   sub.TenantID,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]interface{}{
			"item_id":     item.ID,
			"review_id":   review.ID,
			"reviewer_id": sub.ReviewedByUserID,
		},
	}); err != nil {
		s.logger.Warn("Audit emit failed", logger.String("itemId", item.ID), logger.Error(err))
	}

	s.logger.Info("Review recorded",
		logger.String("itemId", item.ID),
		logger.String("reviewId", review.ID),
	)
	return review, nil
}

// ReviewQueue lists unreviewed flagged items for the tenant, lowest
// confidence first.
func (s *Service) ReviewQueue(ctx context.Context, tenantID string, limit int) ([]models.DocumentItem, error) {
	if tenantID == "" {
		return nil, common.InvalidInputError("tenant_id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.items.ListReviewQueue(ctx, tenantID, limit)
}

// ItemReviews lists all corrections recorded for an item, oldest first.
func (s *Service) ItemReviews(ctx context.Context, tenantID, itemID string) ([]models.HumanReview, error) {
	if _, err := s.items.GetItem(ctx, tenantID, itemID); err != nil {
		return nil, err
	}
	return s.reviews.ListReviewsForItem(ctx, tenantID, itemID)
}

func (s *Service) validate(sub *Submission) error {
	if sub.TenantID == "" {
		return common.InvalidInputError("tenant_id is required")
	}
	if sub.ItemID == "" {
		return common.InvalidInputError("item_id is required")
	}
	if sub.ReviewedByUserID == "" {
		return common.InvalidInputError("reviewed_by_user_id is required")
	}
	if sub.CorrectedText == "" && len(sub.CorrectedStructuredData) == 0 && sub.ReviewNotes == "" {
		return common.InvalidInputError("review must carry a correction or notes")
	}
	return nil
}
