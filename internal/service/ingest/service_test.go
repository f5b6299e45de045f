package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
	"github.com/vitohq/document-intelligence/pkg/storage"
)

type ingestFixture struct {
	service *Service
	store   *repository.MemoryStore
	objects *storage.MemoryStorage
	queue   *queue.MemoryQueue
	sink    *audit.MemorySink
}

func newIngestFixture(cfg *Config) *ingestFixture {
	f := &ingestFixture{
		store:   repository.NewMemoryStore(),
		objects: storage.NewMemoryStorage(),
		queue:   queue.NewMemoryQueue(),
		sink:    audit.NewMemorySink(),
	}
	f.service = NewService(f.store, f.objects, f.queue, f.sink, logger.NewTestLogger(), cfg)
	return f
}

func validSubmission() *Submission {
	return &Submission{
		TenantID:          "tenant-1",
		DocumentProfileID: "profile-1",
		FileBytes:         []byte("%PDF-1.4 fake"),
		Filename:          "invoice.pdf",
		MimeType:          "application/pdf",
	}
}

func TestSubmitCreatesJobAndEnqueues(t *testing.T) {
	f := newIngestFixture(nil)

	receipt, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.JobID)
	assert.NotEmpty(t, receipt.CorrelationID)
	assert.Equal(t, models.JobStatusPending, receipt.Status)
	assert.Greater(t, receipt.EstimatedCompletionSeconds, 0)

	job, err := f.store.GetJob(context.Background(), "tenant-1", receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.True(t, f.objects.Has(job.StoragePath))

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, receipt.JobID, tasks[0].Task.JobID)
	assert.Equal(t, "tenant-1", tasks[0].Task.TenantID)
	assert.Equal(t, 1, tasks[0].Task.Attempt)

	assert.Equal(t, []string{audit.EventDocumentIngested}, f.sink.EventTypes())
}

func TestSubmitStorageKeyIsTenantScoped(t *testing.T) {
	f := newIngestFixture(nil)

	sub := validSubmission()
	sub.Filename = "my invoice (final).pdf"
	receipt, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)

	job, err := f.store.GetJob(context.Background(), "tenant-1", receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t,
		"tenants/tenant-1/jobs/"+receipt.JobID+"/source/my_invoice__final_.pdf",
		job.StoragePath,
	)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"missing tenant", func(s *Submission) { s.TenantID = "" }},
		{"missing profile", func(s *Submission) { s.DocumentProfileID = "" }},
		{"empty file", func(s *Submission) { s.FileBytes = nil }},
		{"unsupported mime", func(s *Submission) { s.MimeType = "application/zip" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(nil)
			sub := validSubmission()
			tt.mutate(sub)

			_, err := f.service.Submit(context.Background(), sub)
			require.Error(t, err)
			assert.Equal(t, common.CodeInvalidInput, common.ErrorCode(err))

			// Rejected submissions leave no side effects behind.
			assert.Equal(t, 0, f.objects.Uploads)
			assert.Equal(t, 0, f.store.JobInserts)
			assert.Empty(t, f.queue.Tasks())
			assert.Empty(t, f.sink.Events())
		})
	}
}

func TestSubmitRejectsOversizedFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 10
	f := newIngestFixture(cfg)

	sub := validSubmission()
	sub.FileBytes = bytes.Repeat([]byte("a"), 11)

	_, err := f.service.Submit(context.Background(), sub)
	require.Error(t, err)
	assert.Equal(t, common.CodeInvalidInput, common.ErrorCode(err))
	assert.Equal(t, 0, f.objects.Uploads)
}

func TestSubmitExternalRefIsIdempotent(t *testing.T) {
	f := newIngestFixture(nil)

	sub := validSubmission()
	sub.ExternalRef = "inv-001"

	first, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)

	second, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, 1, f.store.JobInserts)
	assert.Equal(t, 1, f.objects.Uploads)
	assert.Len(t, f.queue.Tasks(), 1)
}

func TestSubmitExternalRefFailedJobIsNotReused(t *testing.T) {
	f := newIngestFixture(nil)

	sub := validSubmission()
	sub.ExternalRef = "inv-002"

	first, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)

	claimed, err := f.store.ClaimJob(context.Background(), "tenant-1", first.JobID)
	require.NoError(t, err)
	require.True(t, claimed)
	done, err := f.store.FinalizeJob(context.Background(), "tenant-1", first.JobID, models.JobStatusFailed, "boom")
	require.NoError(t, err)
	require.True(t, done)

	second, err := f.service.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, 2, f.store.JobInserts)
}

func TestSubmitEnqueueFailureStillAdmits(t *testing.T) {
	f := newIngestFixture(nil)
	f.queue.FailEnqueues = true

	receipt, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	// The row stays pending; the worker's stale-job sweeper picks it up.
	job, err := f.store.GetJob(context.Background(), "tenant-1", receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Empty(t, f.queue.Tasks())
}

func TestSubmitAuditFailureDoesNotBlock(t *testing.T) {
	f := newIngestFixture(nil)
	f.sink.FailEmits = true

	_, err := f.service.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Len(t, f.queue.Tasks(), 1)
}

func TestSubmitEstimateGrowsWithSize(t *testing.T) {
	cfg := DefaultConfig()
	f := newIngestFixture(cfg)

	small := validSubmission()
	smallReceipt, err := f.service.Submit(context.Background(), small)
	require.NoError(t, err)

	large := validSubmission()
	large.FileBytes = bytes.Repeat([]byte("a"), 5*1024*1024)
	largeReceipt, err := f.service.Submit(context.Background(), large)
	require.NoError(t, err)

	assert.Equal(t, cfg.EstimateBaseSeconds, smallReceipt.EstimatedCompletionSeconds)
	assert.Equal(t, cfg.EstimateBaseSeconds+5*cfg.EstimateSecondsPerMB, largeReceipt.EstimatedCompletionSeconds)
}

func TestSubmitBatch(t *testing.T) {
	f := newIngestFixture(nil)

	subs := []*Submission{validSubmission(), validSubmission(), validSubmission()}
	receipts, err := f.service.SubmitBatch(context.Background(), subs)
	require.NoError(t, err)
	require.Len(t, receipts, 3)

	seen := map[string]bool{}
	for _, r := range receipts {
		require.NotNil(t, r)
		seen[r.JobID] = true
	}
	assert.Len(t, seen, 3)
	assert.Len(t, f.queue.Tasks(), 3)
}
