package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/models"
)

// MemoryStore implements Store in memory with the same CAS semantics
// as the gorm implementation. Used by unit tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*models.DocumentJob
	profiles map[string]*models.DocumentProfile
	items    map[string]*models.DocumentItem
	reviews  map[string]*models.HumanReview
	usage    map[string]*models.UsageEntry

	// JobInserts counts CreateJob calls, for side-effect assertions.
	JobInserts int

	// FailNextCreateItems makes the next CreateItems call fail once,
	// simulating a crash between the idempotent delete and insert.
	FailNextCreateItems bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*models.DocumentJob),
		profiles: make(map[string]*models.DocumentProfile),
		items:    make(map[string]*models.DocumentItem),
		reviews:  make(map[string]*models.HumanReview),
		usage:    make(map[string]*models.UsageEntry),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.DocumentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job already exists: %s", job.ID)
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	s.JobInserts++
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, tenantID, jobID string) (*models.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, common.NotFoundError("job not found")
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) FindJobByExternalRef(ctx context.Context, tenantID, externalRef string) (*models.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.DocumentJob
	for _, job := range s.jobs {
		if job.TenantID != tenantID || job.ExternalRef != externalRef {
			continue
		}
		if job.Status == models.JobStatusFailed {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, common.NotFoundError("no job for external_ref")
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) ClaimJob(ctx context.Context, tenantID, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return false, nil
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusProcessing {
		return false, nil
	}
	job.Status = models.JobStatusProcessing
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ReleaseJob(ctx context.Context, tenantID, jobID string, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID || job.Status != models.JobStatusProcessing {
		return false, nil
	}
	job.Status = models.JobStatusPending
	job.Attempts = attempts
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) FinalizeJob(ctx context.Context, tenantID, jobID string, status models.JobStatus, errorMessage string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID || job.Status != models.JobStatusProcessing {
		return false, nil
	}
	now := time.Now()
	job.Status = status
	job.ErrorMessage = errorMessage
	job.ProcessedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []models.DocumentJob
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && job.UpdatedAt.Before(cutoff) {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ListStaleProcessingJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []models.DocumentJob
	for _, job := range s.jobs {
		if job.Status == models.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, tenantID, profileID string) (*models.DocumentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[profileID]
	if !ok || profile.TenantID != tenantID {
		return nil, common.NotFoundError("profile not found")
	}
	cp := *profile
	return &cp, nil
}

func (s *MemoryStore) CreateProfile(ctx context.Context, profile *models.DocumentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.profiles[profile.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteItemsForJob(ctx context.Context, tenantID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.items {
		if item.TenantID == tenantID && item.DocumentJobID == jobID {
			delete(s.items, id)
		}
	}
	return nil
}

func (s *MemoryStore) CreateItems(ctx context.Context, items []*models.DocumentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextCreateItems {
		s.FailNextCreateItems = false
		return fmt.Errorf("create items failed: connection reset")
	}
	for _, item := range items {
		cp := *item
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		s.items[item.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) ListItemsForJob(ctx context.Context, tenantID, jobID string) ([]models.DocumentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.DocumentItem
	for _, item := range s.items {
		if item.TenantID == tenantID && item.DocumentJobID == jobID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemIndex < items[j].ItemIndex })
	return items, nil
}

func (s *MemoryStore) GetItem(ctx context.Context, tenantID, itemID string) (*models.DocumentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID {
		return nil, common.NotFoundError("item not found")
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) MarkItemReviewed(ctx context.Context, tenantID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID {
		return common.NotFoundError("item not found")
	}
	item.Reviewed = true
	return nil
}

func (s *MemoryStore) ListReviewQueue(ctx context.Context, tenantID string, limit int) ([]models.DocumentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.DocumentItem
	for _, item := range s.items {
		if item.TenantID == tenantID && item.NeedsReview && !item.Reviewed {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Confidence < items[j].Confidence })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) CreateReview(ctx context.Context, review *models.HumanReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *review
	s.reviews[review.ID] = &cp
	return nil
}

func (s *MemoryStore) ListReviewsForItem(ctx context.Context, tenantID, itemID string) ([]models.HumanReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reviews []models.HumanReview
	for _, review := range s.reviews {
		if review.TenantID == tenantID && review.DocumentItemID == itemID {
			reviews = append(reviews, *review)
		}
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].CompletedAt.Before(reviews[j].CompletedAt) })
	return reviews, nil
}

func (s *MemoryStore) CreateUsageEntry(ctx context.Context, entry *models.UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.usage[entry.ID] = &cp
	return nil
}

func (s *MemoryStore) ListUsageForJob(ctx context.Context, tenantID, jobID string) ([]models.UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.UsageEntry
	for _, entry := range s.usage {
		if entry.TenantID == tenantID && entry.DocumentJobID == jobID {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}
