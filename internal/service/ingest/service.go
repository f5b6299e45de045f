package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
	"github.com/vitohq/document-intelligence/pkg/storage"
)

// Config defines admission limits and the completion estimate curve.
type Config struct {
	MaxFileSize         int64
	AllowedMimeTypes    []string
	EstimateBaseSeconds int
	EstimateSecondsPerMB int
}

func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: 50 * 1024 * 1024, // 50MB
		AllowedMimeTypes: []string{
			"application/pdf",
			"image/png",
			"image/jpeg",
			"image/jpg",
			"image/tiff",
		},
		EstimateBaseSeconds:  15,
		EstimateSecondsPerMB: 2,
	}
}

// Submission is one ingest request.
type Submission struct {
	TenantID          string
	IntegrationID     string
	DocumentProfileID string
	FileBytes         []byte
	Filename          string
	MimeType          string
	ExternalRef       string
}

// Receipt is the immediate response to a submission; processing is
// asynchronous and callers poll the job status.
type Receipt struct {
	JobID                      string           `json:"job_id"`
	Status                     models.JobStatus `json:"status"`
	CorrelationID              string           `json:"correlation_id"`
	EstimatedCompletionSeconds int              `json:"estimated_completion_seconds"`
}

// Service admits documents into the pipeline: validate, store bytes,
// create the job row, enqueue, return. It never blocks on processing.
type Service struct {
	store   Store
	storage storage.Storage
	queue   queue.Queue
	audit   audit.Sink
	logger  logger.Logger
	config  *Config
}

// Store is the persistence surface ingest needs: job writes plus item
// reads for the job detail endpoint.
type Store interface {
	repository.JobRepository
	repository.ItemRepository
}

func NewService(
	store Store,
	objects storage.Storage,
	q queue.Queue,
	sink audit.Sink,
	log logger.Logger,
	cfg *Config,
) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		store:   store,
		storage: objects,
		queue:   q,
		audit:   sink,
		logger:  log,
		config:  cfg,
	}
}

// Submit validates and admits one document. When external_ref matches
// an existing reusable job for the tenant, that job is returned and no
// new side effects happen (client retries are idempotent).
func (s *Service) Submit(ctx context.Context, sub *Submission) (*Receipt, error) {
	if err := s.validate(sub); err != nil {
		return nil, err
	}

	if sub.ExternalRef != "" {
		existing, err := s.store.FindJobByExternalRef(ctx, sub.TenantID, sub.ExternalRef)
		if err == nil {
			s.logger.Info("Submission matched existing job",
				logger.String("jobId", existing.ID),
				logger.String("correlationId", existing.CorrelationID),
			)
			return s.receipt(existing), nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, common.WrapError(err, "failed to check external_ref")
		}
	}

	jobID := uuid.New().String()
	correlationID := uuid.New().String()
	path := storage.ObjectPath(sub.TenantID, jobID, sub.Filename)

	size := int64(len(sub.FileBytes))
	if err := s.storage.Upload(ctx, path, bytes.NewReader(sub.FileBytes), size, sub.MimeType); err != nil {
		return nil, common.WrapError(err, "failed to store document")
	}

	job := &models.DocumentJob{
		ID:                jobID,
		TenantID:          sub.TenantID,
		CorrelationID:     correlationID,
		IntegrationID:     sub.IntegrationID,
		DocumentProfileID: sub.DocumentProfileID,
		StoragePath:       path,
		MimeType:          sub.MimeType,
		OriginalFilename:  sub.Filename,
		FileSizeBytes:     size,
		ExternalRef:       sub.ExternalRef,
		Status:            models.JobStatusPending,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, common.WrapError(err, "failed to create job")
	}

	if err := s.audit.EmitEvent(ctx, audit.Event{
		Type:          audit.EventDocumentIngested,
		TenantID:      sub.TenantID,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		Payload: map[string]interface{}{
			"job_id":     jobID,
			"profile_id": sub.DocumentProfileID,
			"size_bytes": size,
		},
	}); err != nil {
		s.logger.Warn("Audit emit failed", logger.String("jobId", jobID), logger.Error(err))
	}

	task := &queue.ProcessingTask{
		JobID:         jobID,
		TenantID:      sub.TenantID,
		CorrelationID: correlationID,
		Attempt:       1,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		// The job row is committed at pending; the worker's stale-job
		// sweeper re-enqueues it, so admission still succeeds.
		s.logger.Error("Failed to enqueue job, sweeper will recover",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}

	s.logger.Info("Document admitted",
		logger.String("jobId", jobID),
		logger.String("correlationId", correlationID),
		logger.Int64("sizeBytes", size),
	)

	return s.receipt(job), nil
}

// SubmitBatch admits several documents concurrently.
func (s *Service) SubmitBatch(ctx context.Context, subs []*Submission) ([]*Receipt, error) {
	receipts := make([]*Receipt, len(subs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			receipt, err := s.Submit(ctx, sub)
			if err != nil {
				return err
			}
			mu.Lock()
			receipts[i] = receipt
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return receipts, err
	}
	return receipts, nil
}

// GetJob returns a job scoped to the tenant.
func (s *Service) GetJob(ctx context.Context, tenantID, jobID string) (*models.DocumentJob, error) {
	return s.store.GetJob(ctx, tenantID, jobID)
}

// JobItems lists the extracted items for a finished job, in extraction
// order.
func (s *Service) JobItems(ctx context.Context, tenantID, jobID string) ([]models.DocumentItem, error) {
	if _, err := s.store.GetJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	return s.store.ListItemsForJob(ctx, tenantID, jobID)
}

func (s *Service) receipt(job *models.DocumentJob) *Receipt {
	mb := int(job.FileSizeBytes / (1024 * 1024))
	return &Receipt{
		JobID:                      job.ID,
		Status:                     job.Status,
		CorrelationID:              job.CorrelationID,
		EstimatedCompletionSeconds: s.config.EstimateBaseSeconds + mb*s.config.EstimateSecondsPerMB,
	}
}

func (s *Service) validate(sub *Submission) error {
	if sub.TenantID == "" {
		return common.InvalidInputError("tenant_id is required")
	}
	if sub.DocumentProfileID == "" {
		return common.InvalidInputError("document_profile_id is required")
	}
	if len(sub.FileBytes) == 0 {
		return common.InvalidInputError("file is empty")
	}
	if int64(len(sub.FileBytes)) > s.config.MaxFileSize {
		return common.InvalidInputErrorf("file size %d exceeds limit of %d bytes", len(sub.FileBytes), s.config.MaxFileSize)
	}

	mime := strings.ToLower(sub.MimeType)
	for _, allowed := range s.config.AllowedMimeTypes {
		if mime == allowed {
			return nil
		}
	}
	return common.InvalidInputErrorf("unsupported mime type: %s", sub.MimeType)
}
