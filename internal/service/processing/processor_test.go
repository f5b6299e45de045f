package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitohq/document-intelligence/internal/extract"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
	"github.com/vitohq/document-intelligence/pkg/storage"
)

// stubProvider returns canned results or a canned error.
type stubProvider struct {
	result *extract.Result
	err    error
	calls  int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Extract(ctx context.Context, data []byte, mimeType string, rules json.RawMessage) (*extract.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type processorFixture struct {
	processor *Processor
	store     *repository.MemoryStore
	objects   *storage.MemoryStorage
	queue     *queue.MemoryQueue
	sink      *audit.MemorySink
	provider  *stubProvider
}

func newProcessorFixture(t *testing.T, provider *stubProvider, cfg *Config) *processorFixture {
	t.Helper()
	f := &processorFixture{
		store:    repository.NewMemoryStore(),
		objects:  storage.NewMemoryStorage(),
		queue:    queue.NewMemoryQueue(),
		sink:     audit.NewMemorySink(),
		provider: provider,
	}
	f.processor = NewProcessor(f.store, f.objects, f.provider, f.queue, f.sink, logger.NewTestLogger(), cfg)
	return f
}

// seedJob inserts a pending job with its profile and stored bytes.
func (f *processorFixture) seedJob(t *testing.T, profile *models.DocumentProfile) *models.DocumentJob {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.CreateProfile(ctx, profile))

	job := &models.DocumentJob{
		ID:                "job-1",
		TenantID:          profile.TenantID,
		CorrelationID:     "corr-1",
		IntegrationID:     "int-1",
		DocumentProfileID: profile.ID,
		StoragePath:       "tenants/tenant-1/jobs/job-1/source/doc.pdf",
		MimeType:          "application/pdf",
		FileSizeBytes:     1024,
		Status:            models.JobStatusPending,
	}
	require.NoError(t, f.store.CreateJob(ctx, job))
	require.NoError(t, f.objects.Upload(ctx, job.StoragePath, strings.NewReader("%PDF-1.4"), 8, job.MimeType))
	return job
}

func invoiceProfile(threshold float64) *models.DocumentProfile {
	return &models.DocumentProfile{
		ID:                  "profile-1",
		TenantID:            "tenant-1",
		Name:                "invoices",
		ConfidenceThreshold: threshold,
	}
}

func taskFor(job *models.DocumentJob, attempt int) *queue.ProcessingTask {
	return &queue.ProcessingTask{
		JobID:         job.ID,
		TenantID:      job.TenantID,
		CorrelationID: job.CorrelationID,
		Attempt:       attempt,
	}
}

func extractionResult(confidences ...float64) *extract.Result {
	items := make([]extract.ExtractedItem, 0, len(confidences))
	for i, c := range confidences {
		items = append(items, extract.ExtractedItem{
			RawText:    fmt.Sprintf("line %d", i),
			Confidence: c,
		})
	}
	return &extract.Result{
		Items:        items,
		Pages:        2,
		Provider:     "stub",
		ModelVersion: "stub-v1",
		Duration:     120 * time.Millisecond,
	}
}

func TestProcessCompletesHighConfidenceJob(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.95, 0.91)}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)

	items, err := f.store.ListItemsForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.False(t, item.NeedsReview)
	}

	assert.Equal(t, []string{
		audit.EventOCRCompleted,
		audit.EventItemsExtracted,
		audit.EventDocumentCompleted,
	}, f.sink.EventTypes())
}

func TestProcessWritesUsageLedgerOnce(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.95)}
	cfg := DefaultConfig()
	cfg.CostPerPage = decimal.NewFromFloat(0.002)
	f := newProcessorFixture(t, provider, cfg)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	entries, err := f.store.ListUsageForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stub", entries[0].Provider)
	assert.Equal(t, "stub-v1", entries[0].ModelVersion)
	assert.Equal(t, 2, entries[0].PagesProcessed)
	assert.Equal(t, int64(1024), entries[0].FileSizeBytes)
	assert.Equal(t, int64(120), entries[0].ProcessingTimeMS)
	assert.True(t, entries[0].Cost.Equal(decimal.NewFromFloat(0.004)),
		"cost = pages x cost-per-page, got %s", entries[0].Cost)

	// A redelivered task finds the job terminal and does nothing.
	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))
	assert.Equal(t, 1, provider.calls)

	entries, err = f.store.ListUsageForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessLowConfidenceRequiresReview(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.40, 0.92)}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReviewRequired, got.Status)

	reviewQueue, err := f.store.ListReviewQueue(ctx, job.TenantID, 10)
	require.NoError(t, err)
	require.Len(t, reviewQueue, 1)
	assert.Equal(t, 0.40, reviewQueue[0].Confidence)

	assert.Contains(t, f.sink.EventTypes(), audit.EventDocumentReviewRequired)

	// Review-required jobs still consumed provider pages, so the ledger
	// row is written.
	entries, err := f.store.ListUsageForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessSchemaViolationForcesReview(t *testing.T) {
	structured, _ := json.Marshal(map[string]interface{}{"amount": "not-a-number"})
	provider := &stubProvider{result: &extract.Result{
		Items: []extract.ExtractedItem{{
			RawText:        "Total: not-a-number",
			StructuredData: structured,
			Confidence:     0.99,
		}},
		Pages:    1,
		Provider: "stub",
	}}
	f := newProcessorFixture(t, provider, nil)

	profile := invoiceProfile(0.80)
	profile.FieldSchema = `{"type":"object","properties":{"amount":{"type":"number"}}}`
	job := f.seedJob(t, profile)
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReviewRequired, got.Status)

	items, err := f.store.ListItemsForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].NeedsReview, "schema violation flags the item despite high confidence")
}

func TestProcessTransientFailureSchedulesRetry(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider timeout")}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Task.Attempt)
	assert.Equal(t, 2*time.Second, tasks[0].Delay)
}

func TestProcessBackoffDoublesPerAttempt(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider timeout")}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 5
	f := newProcessorFixture(t, provider, cfg)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))
	require.NoError(t, f.processor.Process(ctx, taskFor(job, 2)))
	require.NoError(t, f.processor.Process(ctx, taskFor(job, 3)))

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, 2*time.Second, tasks[0].Delay)
	assert.Equal(t, 4*time.Second, tasks[1].Delay)
	assert.Equal(t, 8*time.Second, tasks[2].Delay)
}

// expiringProvider cancels the handler context mid-extraction and
// surfaces the deadline error, the shape of a wall-clock budget expiry.
type expiringProvider struct {
	cancel context.CancelFunc
}

func (p *expiringProvider) Name() string { return "stub" }

func (p *expiringProvider) Extract(ctx context.Context, data []byte, mimeType string, rules json.RawMessage) (*extract.Result, error) {
	p.cancel()
	return nil, ctx.Err()
}

func TestProcessBudgetExpiryReleasesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &expiringProvider{cancel: cancel}
	f := &processorFixture{
		store:   repository.NewMemoryStore(),
		objects: storage.NewMemoryStorage(),
		queue:   queue.NewMemoryQueue(),
		sink:    audit.NewMemorySink(),
	}
	f.processor = NewProcessor(f.store, f.objects, provider, f.queue, f.sink, logger.NewTestLogger(), nil)
	job := f.seedJob(t, invoiceProfile(0.80))

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	// The expired attempt must not strand the job at processing: it is
	// released back to pending with a retry on the queue.
	got, err := f.store.GetJob(context.Background(), job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Task.Attempt)
}

func TestProcessExhaustedRetriesFailJob(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider timeout: secret-host-details")}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 3)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "TRANSIENT_PROCESSING_ERROR")
	assert.NotContains(t, got.ErrorMessage, "secret-host-details",
		"persisted message carries the failure class, not the raw cause")

	assert.Empty(t, f.queue.Tasks())
	assert.Contains(t, f.sink.EventTypes(), audit.EventDocumentFailed)

	// No ledger row for failed jobs.
	entries, err := f.store.ListUsageForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessCorruptDocumentFailsWithoutRetry(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("%w: bad xref table", extract.ErrCorruptDocument)}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "PERMANENT_PROCESSING_ERROR")
	assert.Empty(t, f.queue.Tasks(), "permanent failures never retry")
}

func TestProcessMissingProfileFailsPermanently(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.95)}
	f := newProcessorFixture(t, provider, nil)
	ctx := context.Background()

	job := &models.DocumentJob{
		ID:                "job-1",
		TenantID:          "tenant-1",
		DocumentProfileID: "missing-profile",
		StoragePath:       "tenants/tenant-1/jobs/job-1/source/doc.pdf",
		MimeType:          "application/pdf",
		Status:            models.JobStatusPending,
	}
	require.NoError(t, f.store.CreateJob(ctx, job))
	require.NoError(t, f.objects.Upload(ctx, job.StoragePath, strings.NewReader("%PDF-1.4"), 8, job.MimeType))

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "PERMANENT_PROCESSING_ERROR")
	assert.Equal(t, 0, provider.calls)
}

func TestProcessReprocessingReplacesItems(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.95, 0.93, 0.91)}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	// First delivery crashes between the item wipe and the insert.
	f.store.FailNextCreateItems = true
	require.NoError(t, f.processor.Process(ctx, taskFor(job, 1)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, got.Status)

	// The scheduled retry runs the job to completion with no duplicates.
	retry := f.queue.Pop()
	require.NotNil(t, retry)
	require.NoError(t, f.processor.Process(ctx, &retry.Task))

	items, err := f.store.ListItemsForJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	got, err = f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestProcessUnknownJobDropsDelivery(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.95)}
	f := newProcessorFixture(t, provider, nil)

	task := &queue.ProcessingTask{JobID: "ghost", TenantID: "tenant-1", Attempt: 1}
	require.NoError(t, f.processor.Process(context.Background(), task))
	assert.Equal(t, 0, provider.calls)
	assert.Empty(t, f.queue.Tasks())
}

func TestProcessCrashedAttemptCanBeReclaimed(t *testing.T) {
	provider := &stubProvider{result: extractionResult(0.95)}
	f := newProcessorFixture(t, provider, nil)
	job := f.seedJob(t, invoiceProfile(0.80))
	ctx := context.Background()

	// A prior attempt claimed the job and crashed before finalizing.
	claimed, err := f.store.ClaimJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.processor.Process(ctx, taskFor(job, 2)))

	got, err := f.store.GetJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}
