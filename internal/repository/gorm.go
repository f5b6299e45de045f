package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/pkg/logger"
)

var reusableStatuses = []models.JobStatus{
	models.JobStatusPending,
	models.JobStatusProcessing,
	models.JobStatusCompleted,
	models.JobStatusReviewRequired,
}

var claimableStatuses = []models.JobStatus{
	models.JobStatusPending,
	models.JobStatusProcessing,
}

// GormStore implements Store on a relational database via gorm.
type GormStore struct {
	db     *gorm.DB
	logger logger.Logger
}

func NewGormStore(db *gorm.DB, log logger.Logger) *GormStore {
	return &GormStore{db: db, logger: log}
}

// AutoMigrate creates or updates the pipeline tables.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.DocumentJob{},
		&models.DocumentProfile{},
		&models.DocumentItem{},
		&models.HumanReview{},
		&models.UsageEntry{},
	)
}

func (s *GormStore) CreateJob(ctx context.Context, job *models.DocumentJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *GormStore) GetJob(ctx context.Context, tenantID, jobID string) (*models.DocumentJob, error) {
	var job models.DocumentJob
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", jobID, tenantID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFoundError("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *GormStore) FindJobByExternalRef(ctx context.Context, tenantID, externalRef string) (*models.DocumentJob, error) {
	var job models.DocumentJob
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND external_ref = ? AND status IN ?", tenantID, externalRef, reusableStatuses).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFoundError("no job for external_ref")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job by external_ref: %w", err)
	}
	return &job, nil
}

func (s *GormStore) ClaimJob(ctx context.Context, tenantID, jobID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.DocumentJob{}).
		Where("id = ? AND tenant_id = ? AND status IN ?", jobID, tenantID, claimableStatuses).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ReleaseJob(ctx context.Context, tenantID, jobID string, attempts int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.DocumentJob{}).
		Where("id = ? AND tenant_id = ? AND status = ?", jobID, tenantID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":     models.JobStatusPending,
			"attempts":   attempts,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) FinalizeJob(ctx context.Context, tenantID, jobID string, status models.JobStatus, errorMessage string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", status)
	}
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.DocumentJob{}).
		Where("id = ? AND tenant_id = ? AND status = ?", jobID, tenantID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"processed_at":  &now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to finalize job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.DocumentJob, error) {
	var jobs []models.DocumentJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.JobStatusPending, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) ListStaleProcessingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.DocumentJob, error) {
	var jobs []models.DocumentJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.JobStatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale processing jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) GetProfile(ctx context.Context, tenantID, profileID string) (*models.DocumentProfile, error) {
	var profile models.DocumentProfile
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", profileID, tenantID).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFoundError("profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

func (s *GormStore) CreateProfile(ctx context.Context, profile *models.DocumentProfile) error {
	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteItemsForJob(ctx context.Context, tenantID, jobID string) error {
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_job_id = ?", tenantID, jobID).
		Delete(&models.DocumentItem{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete items for job: %w", err)
	}
	return nil
}

func (s *GormStore) CreateItems(ctx context.Context, items []*models.DocumentItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(items).Error; err != nil {
		return fmt.Errorf("failed to create items: %w", err)
	}
	return nil
}

func (s *GormStore) ListItemsForJob(ctx context.Context, tenantID, jobID string) ([]models.DocumentItem, error) {
	var items []models.DocumentItem
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_job_id = ?", tenantID, jobID).
		Order("item_index ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (s *GormStore) GetItem(ctx context.Context, tenantID, itemID string) (*models.DocumentItem, error) {
	var item models.DocumentItem
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", itemID, tenantID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NotFoundError("item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (s *GormStore) MarkItemReviewed(ctx context.Context, tenantID, itemID string) error {
	res := s.db.WithContext(ctx).Model(&models.DocumentItem{}).
		Where("id = ? AND tenant_id = ?", itemID, tenantID).
		Update("reviewed", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark item reviewed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NotFoundError("item not found")
	}
	return nil
}

func (s *GormStore) ListReviewQueue(ctx context.Context, tenantID string, limit int) ([]models.DocumentItem, error) {
	var items []models.DocumentItem
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND needs_review = ? AND reviewed = ?", tenantID, true, false).
		Order("confidence ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list review queue: %w", err)
	}
	return items, nil
}

func (s *GormStore) CreateReview(ctx context.Context, review *models.HumanReview) error {
	if err := s.db.WithContext(ctx).Create(review).Error; err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

func (s *GormStore) ListReviewsForItem(ctx context.Context, tenantID, itemID string) ([]models.HumanReview, error) {
	var reviews []models.HumanReview
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_item_id = ?", tenantID, itemID).
		Order("completed_at ASC").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

func (s *GormStore) CreateUsageEntry(ctx context.Context, entry *models.UsageEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create usage entry: %w", err)
	}
	return nil
}

func (s *GormStore) ListUsageForJob(ctx context.Context, tenantID, jobID string) ([]models.UsageEntry, error) {
	var entries []models.UsageEntry
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_job_id = ?", tenantID, jobID).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list usage entries: %w", err)
	}
	return entries, nil
}
