package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/extract"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
	"github.com/vitohq/document-intelligence/pkg/storage"
)

// Config tunes retry and billing behavior.
type Config struct {
	// MaxAttempts caps transient retries; the job fails permanently once
	// the ceiling is reached.
	MaxAttempts int
	// RetryBackoffBase is doubled per attempt: base, 2x base, 4x base.
	RetryBackoffBase time.Duration
	// CostPerPage prices one processed page in the usage ledger.
	CostPerPage decimal.Decimal
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:      3,
		RetryBackoffBase: 2 * time.Second,
		CostPerPage:      decimal.NewFromFloat(0.0015),
	}
}

// Processor executes one document job end to end: claim, download,
// extract, persist items, finalize. Every task delivery runs through
// Process; duplicate deliveries are dropped at the claim step.
type Processor struct {
	store    repository.Store
	storage  storage.Storage
	provider extract.Provider
	queue    queue.Queue
	audit    audit.Sink
	logger   logger.Logger
	config   *Config
}

func NewProcessor(
	store repository.Store,
	objects storage.Storage,
	provider extract.Provider,
	q queue.Queue,
	sink audit.Sink,
	log logger.Logger,
	cfg *Config,
) *Processor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Processor{
		store:    store,
		storage:  objects,
		provider: provider,
		queue:    q,
		audit:    sink,
		logger:   log,
		config:   cfg,
	}
}

// Process handles one queue delivery. A nil return acknowledges the
// task; an error surfaces only infrastructure problems that happened
// before the job could be claimed or released.
func (p *Processor) Process(ctx context.Context, task *queue.ProcessingTask) error {
	log := p.logger.With(
		logger.String("jobId", task.JobID),
		logger.String("correlationId", task.CorrelationID),
		logger.Int("attempt", task.Attempt),
	)

	claimed, err := p.store.ClaimJob(ctx, task.TenantID, task.JobID)
	if err != nil {
		return common.WrapError(err, "failed to claim job")
	}
	if !claimed {
		// Terminal job, unknown job, or a late duplicate delivery.
		log.Info("Dropping delivery for unclaimable job")
		return nil
	}

	job, err := p.store.GetJob(ctx, task.TenantID, task.JobID)
	if err != nil {
		return common.WrapError(err, "failed to load claimed job")
	}

	if procErr := p.run(ctx, log, job, task); procErr != nil {
		// The failure may be the handler context expiring (wall-clock
		// budget). State writes on the failure path run on a detached
		// context so the release or finalize still lands; otherwise the
		// job would strand at processing until the sweeper reclaims it.
		cleanupCtx := context.WithoutCancel(ctx)
		if procErr.permanent {
			return p.failPermanently(cleanupCtx, log, job, procErr)
		}
		return p.retryOrFail(cleanupCtx, log, job, task, procErr)
	}
	return nil
}

// procError carries the failure class. The message describes the
// failing step only; extracted text and filenames never appear in it.
type procError struct {
	permanent bool
	message   string
	cause     error
}

func (e *procError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func transientErr(message string, cause error) *procError {
	return &procError{message: message, cause: cause}
}

func permanentErr(message string, cause error) *procError {
	return &procError{permanent: true, message: message, cause: cause}
}

func (p *Processor) run(ctx context.Context, log logger.Logger, job *models.DocumentJob, task *queue.ProcessingTask) *procError {
	profile, err := p.store.GetProfile(ctx, job.TenantID, job.DocumentProfileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return permanentErr("document profile not found", err)
		}
		return transientErr("failed to load document profile", err)
	}

	var schema *jsonschema.Schema
	if profile.FieldSchema != "" {
		schema, err = jsonschema.CompileString("profile-field-schema.json", profile.FieldSchema)
		if err != nil {
			return permanentErr("invalid profile field schema", err)
		}
	}

	data, err := p.download(ctx, job.StoragePath)
	if err != nil {
		return transientErr("failed to download document", err)
	}

	result, err := p.provider.Extract(ctx, data, job.MimeType, profile.ExtractionRules)
	if err != nil {
		if errors.Is(err, extract.ErrCorruptDocument) || errors.Is(err, extract.ErrUnsupportedFormat) {
			return permanentErr("document cannot be processed", err)
		}
		return transientErr("extraction failed", err)
	}

	p.emit(ctx, log, audit.Event{
		Type:          audit.EventOCRCompleted,
		TenantID:      job.TenantID,
		CorrelationID: job.CorrelationID,
		OccurredAt:    time.Now().UTC(),
		Payload: map[string]interface{}{
			"job_id":   job.ID,
			"provider": result.Provider,
			"pages":    result.Pages,
		},
	})

	items, reviewCount := p.buildItems(job, profile, schema, result.Items)

	// Reprocessing after a crash must not double up items: wipe and
	// rewrite the full set for this job.
	if err := p.store.DeleteItemsForJob(ctx, job.TenantID, job.ID); err != nil {
		return transientErr("failed to clear prior items", err)
	}
	if len(items) > 0 {
		if err := p.store.CreateItems(ctx, items); err != nil {
			return transientErr("failed to persist items", err)
		}
	}

	p.emit(ctx, log, audit.Event{
		Type:          audit.EventItemsExtracted,
		TenantID:      job.TenantID,
		CorrelationID: job.CorrelationID,
		OccurredAt:    time.Now().UTC(),
		Payload: map[string]interface{}{
			"job_id":       job.ID,
			"item_count":   len(items),
			"review_count": reviewCount,
		},
	})

	status := models.JobStatusCompleted
	if reviewCount > 0 {
		status = models.JobStatusReviewRequired
	}

	finalized, err := p.store.FinalizeJob(ctx, job.TenantID, job.ID, status, "")
	if err != nil {
		return transientErr("failed to finalize job", err)
	}
	if !finalized {
		// Another worker finished the job first; its finalize owns the
		// ledger write and the completion event.
		log.Warn("Job already finalized elsewhere, skipping ledger write")
		return nil
	}

	if err := p.recordUsage(ctx, job, result); err != nil {
		// The job is already terminal; a lost ledger row is logged, not
		// retried, because a retry could never reclaim the job.
		log.Error("Failed to write usage ledger entry", logger.Error(err))
	}

	p.emit(ctx, log, p.completionEvent(job, status, map[string]interface{}{
		"job_id":       job.ID,
		"item_count":   len(items),
		"review_count": reviewCount,
	}))

	log.Info("Job finished",
		logger.String("status", string(status)),
		logger.Int("items", len(items)),
		logger.Int("needsReview", reviewCount),
	)
	return nil
}

// buildItems converts provider output into rows, flagging each item for
// review when its confidence misses the profile threshold or its
// structured data violates the profile's field schema.
func (p *Processor) buildItems(
	job *models.DocumentJob,
	profile *models.DocumentProfile,
	schema *jsonschema.Schema,
	extracted []extract.ExtractedItem,
) ([]*models.DocumentItem, int) {
	items := make([]*models.DocumentItem, 0, len(extracted))
	reviewCount := 0

	for i, ex := range extracted {
		needsReview := ex.Confidence < profile.ConfidenceThreshold
		if !needsReview && schema != nil && len(ex.StructuredData) > 0 {
			var doc interface{}
			if err := json.Unmarshal(ex.StructuredData, &doc); err != nil || schema.Validate(doc) != nil {
				needsReview = true
			}
		}
		if needsReview {
			reviewCount++
		}
		items = append(items, &models.DocumentItem{
			ID:             uuid.New().String(),
			TenantID:       job.TenantID,
			DocumentJobID:  job.ID,
			ItemIndex:      i,
			RawText:        ex.RawText,
			StructuredData: ex.StructuredData,
			Confidence:     ex.Confidence,
			NeedsReview:    needsReview,
		})
	}
	return items, reviewCount
}

func (p *Processor) recordUsage(ctx context.Context, job *models.DocumentJob, result *extract.Result) error {
	pages := decimal.NewFromInt(int64(result.Pages))
	return p.store.CreateUsageEntry(ctx, &models.UsageEntry{
		ID:               uuid.New().String(),
		TenantID:         job.TenantID,
		IntegrationID:    job.IntegrationID,
		DocumentJobID:    job.ID,
		Provider:         result.Provider,
		ModelVersion:     result.ModelVersion,
		PagesProcessed:   result.Pages,
		FileSizeBytes:    job.FileSizeBytes,
		ProcessingTimeMS: result.Duration.Milliseconds(),
		Cost:             pages.Mul(p.config.CostPerPage),
	})
}

// retryOrFail releases the job back to pending and re-enqueues with
// exponential backoff, or fails it once attempts are exhausted.
func (p *Processor) retryOrFail(ctx context.Context, log logger.Logger, job *models.DocumentJob, task *queue.ProcessingTask, procErr *procError) error {
	if task.Attempt >= p.config.MaxAttempts {
		log.Error("Transient failure, retries exhausted", logger.Error(procErr.cause))
		message := fmt.Sprintf("%s: %s after %d attempts", common.CodeTransientError, procErr.message, task.Attempt)
		return p.finalizeFailed(ctx, log, job, message)
	}

	released, err := p.store.ReleaseJob(ctx, job.TenantID, job.ID, task.Attempt)
	if err != nil {
		return common.WrapError(err, "failed to release job for retry")
	}
	if !released {
		log.Warn("Job no longer releasable, skipping retry")
		return nil
	}

	backoff := p.config.RetryBackoffBase * (1 << (task.Attempt - 1))
	next := &queue.ProcessingTask{
		JobID:         task.JobID,
		TenantID:      task.TenantID,
		CorrelationID: task.CorrelationID,
		Attempt:       task.Attempt + 1,
	}
	if err := p.queue.EnqueueIn(ctx, next, backoff); err != nil {
		// Job sits at pending; the stale-job sweeper re-enqueues it.
		log.Error("Failed to enqueue retry, sweeper will recover", logger.Error(err))
		return nil
	}

	log.Warn("Transient failure, retry scheduled",
		logger.Error(procErr.cause),
		logger.Duration("backoff", backoff),
	)
	return nil
}

func (p *Processor) failPermanently(ctx context.Context, log logger.Logger, job *models.DocumentJob, procErr *procError) error {
	log.Error("Permanent failure", logger.Error(procErr.cause))
	message := fmt.Sprintf("%s: %s", common.CodePermanentError, procErr.message)
	return p.finalizeFailed(ctx, log, job, message)
}

func (p *Processor) finalizeFailed(ctx context.Context, log logger.Logger, job *models.DocumentJob, message string) error {
	finalized, err := p.store.FinalizeJob(ctx, job.TenantID, job.ID, models.JobStatusFailed, message)
	if err != nil {
		return common.WrapError(err, "failed to finalize failed job")
	}
	if !finalized {
		return nil
	}
	p.emit(ctx, log, p.completionEvent(job, models.JobStatusFailed, map[string]interface{}{
		"job_id": job.ID,
	}))
	return nil
}

func (p *Processor) completionEvent(job *models.DocumentJob, status models.JobStatus, payload map[string]interface{}) audit.Event {
	eventType := audit.EventDocumentCompleted
	switch status {
	case models.JobStatusFailed:
		eventType = audit.EventDocumentFailed
	case models.JobStatusReviewRequired:
		eventType = audit.EventDocumentReviewRequired
	}
	return audit.Event{
		Type:          eventType,
		TenantID:      job.TenantID,
		CorrelationID: job.CorrelationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

func (p *Processor) emit(ctx context.Context, log logger.Logger, event audit.Event) {
	if err := p.audit.EmitEvent(ctx, event); err != nil {
		log.Warn("Audit emit failed", logger.String("event", event.Type), logger.Error(err))
	}
}

func (p *Processor) download(ctx context.Context, path string) ([]byte, error) {
	reader, err := p.storage.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
