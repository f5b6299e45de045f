package repository

import (
	"context"
	"time"

	"github.com/vitohq/document-intelligence/internal/models"
)

// JobRepository is the tenant-scoped persistence contract for document
// jobs. The compare-and-set operations are the pipeline's only
// serialization points; see ClaimJob and FinalizeJob.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.DocumentJob) error
	GetJob(ctx context.Context, tenantID, jobID string) (*models.DocumentJob, error)
	// FindJobByExternalRef returns the most recent reusable job for
	// (tenant, external_ref): any status except failed. Returns
	// common.ErrNotFound (wrapped) when none exists.
	FindJobByExternalRef(ctx context.Context, tenantID, externalRef string) (*models.DocumentJob, error)
	// ClaimJob atomically moves the job to processing. The claim
	// succeeds from pending or processing (a crashed prior attempt)
	// and fails once the job is terminal, which is what blocks
	// duplicate deliveries after completion.
	ClaimJob(ctx context.Context, tenantID, jobID string) (bool, error)
	// ReleaseJob moves processing back to pending ahead of a retry
	// re-enqueue, recording the attempt count.
	ReleaseJob(ctx context.Context, tenantID, jobID string, attempts int) (bool, error)
	// FinalizeJob atomically moves processing to a terminal status and
	// stamps processed_at. The returned bool gates exactly-once side
	// effects (usage ledger write).
	FinalizeJob(ctx context.Context, tenantID, jobID string, status models.JobStatus, errorMessage string) (bool, error)
	// ListStalePendingJobs returns jobs stuck at pending since before
	// cutoff, for the requeue sweeper.
	ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.DocumentJob, error)
	// ListStaleProcessingJobs returns jobs stuck at processing since
	// before cutoff: a worker crashed or was archived mid-attempt and
	// never released or finalized the job.
	ListStaleProcessingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.DocumentJob, error)
}

// ProfileRepository reads extraction profiles. Profiles are read-only
// to the worker.
type ProfileRepository interface {
	GetProfile(ctx context.Context, tenantID, profileID string) (*models.DocumentProfile, error)
	CreateProfile(ctx context.Context, profile *models.DocumentProfile) error
}

// ItemRepository persists extracted items. Items are write-once:
// reprocessing deletes and recreates the full set for a job.
type ItemRepository interface {
	DeleteItemsForJob(ctx context.Context, tenantID, jobID string) error
	CreateItems(ctx context.Context, items []*models.DocumentItem) error
	ListItemsForJob(ctx context.Context, tenantID, jobID string) ([]models.DocumentItem, error)
	GetItem(ctx context.Context, tenantID, itemID string) (*models.DocumentItem, error)
	MarkItemReviewed(ctx context.Context, tenantID, itemID string) error
	// ListReviewQueue returns unreviewed items flagged for review,
	// lowest confidence first, scoped to the tenant.
	ListReviewQueue(ctx context.Context, tenantID string, limit int) ([]models.DocumentItem, error)
}

// ReviewRepository appends human reviews. Reviews are additive; no
// update or delete operations exist.
type ReviewRepository interface {
	CreateReview(ctx context.Context, review *models.HumanReview) error
	ListReviewsForItem(ctx context.Context, tenantID, itemID string) ([]models.HumanReview, error)
}

// UsageRepository appends usage ledger rows.
type UsageRepository interface {
	CreateUsageEntry(ctx context.Context, entry *models.UsageEntry) error
	ListUsageForJob(ctx context.Context, tenantID, jobID string) ([]models.UsageEntry, error)
}

// Store aggregates every persistence contract the pipeline consumes.
type Store interface {
	JobRepository
	ProfileRepository
	ItemRepository
	ReviewRepository
	UsageRepository
}
