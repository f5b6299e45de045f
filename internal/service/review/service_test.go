package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
)

type reviewFixture struct {
	service *Service
	store   *repository.MemoryStore
	sink    *audit.MemorySink
}

func newReviewFixture() *reviewFixture {
	f := &reviewFixture{
		store: repository.NewMemoryStore(),
		sink:  audit.NewMemorySink(),
	}
	f.service = NewService(f.store, f.store, f.sink, logger.NewTestLogger())
	return f
}

func (f *reviewFixture) seedItem(t *testing.T, id, tenantID string, confidence float64) *models.DocumentItem {
	t.Helper()
	item := &models.DocumentItem{
		ID:            id,
		TenantID:      tenantID,
		DocumentJobID: "job-1",
		RawText:       "Total: 412.50",
		Confidence:    confidence,
		NeedsReview:   true,
	}
	require.NoError(t, f.store.CreateItems(context.Background(), []*models.DocumentItem{item}))
	return item
}

func validReview(itemID string) *Submission {
	return &Submission{
		TenantID:         "tenant-1",
		ItemID:           itemID,
		CorrectedText:    "Total: 421.50",
		ReviewedByUserID: "user-1",
	}
}

func TestSubmitReviewRecordsCorrection(t *testing.T) {
	f := newReviewFixture()
	f.seedItem(t, "item-1", "tenant-1", 0.40)
	ctx := context.Background()

	review, err := f.service.SubmitReview(ctx, validReview("item-1"))
	require.NoError(t, err)
	assert.Equal(t, "item-1", review.DocumentItemID)
	assert.Equal(t, "Total: 421.50", review.CorrectedText)
	assert.False(t, review.CompletedAt.IsZero())

	// The item is marked reviewed but its extracted text is untouched.
	item, err := f.store.GetItem(ctx, "tenant-1", "item-1")
	require.NoError(t, err)
	assert.True(t, item.Reviewed)
	assert.Equal(t, "Total: 412.50", item.RawText)
}

func TestSubmitReviewLeavesQueueAndKeepsHistory(t *testing.T) {
	f := newReviewFixture()
	f.seedItem(t, "item-1", "tenant-1", 0.40)
	ctx := context.Background()

	_, err := f.service.SubmitReview(ctx, validReview("item-1"))
	require.NoError(t, err)

	queue, err := f.service.ReviewQueue(ctx, "tenant-1", 10)
	require.NoError(t, err)
	assert.Empty(t, queue)

	// A second review of the same item is kept alongside the first.
	second := validReview("item-1")
	second.CorrectedText = "Total: 421.55"
	_, err = f.service.SubmitReview(ctx, second)
	require.NoError(t, err)

	history, err := f.service.ItemReviews(ctx, "tenant-1", "item-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSubmitReviewTenantIsolation(t *testing.T) {
	f := newReviewFixture()
	f.seedItem(t, "item-1", "tenant-2", 0.40)

	sub := validReview("item-1")
	sub.TenantID = "tenant-1"

	_, err := f.service.SubmitReview(context.Background(), sub)
	require.Error(t, err)
	assert.Equal(t, common.CodeNotFound, common.ErrorCode(err),
		"cross-tenant items look exactly like missing ones")
}

func TestSubmitReviewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"missing tenant", func(s *Submission) { s.TenantID = "" }},
		{"missing item", func(s *Submission) { s.ItemID = "" }},
		{"missing reviewer", func(s *Submission) { s.ReviewedByUserID = "" }},
		{"empty correction", func(s *Submission) {
			s.CorrectedText = ""
			s.CorrectedStructuredData = nil
			s.ReviewNotes = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReviewFixture()
			f.seedItem(t, "item-1", "tenant-1", 0.40)
			sub := validReview("item-1")
			tt.mutate(sub)

			_, err := f.service.SubmitReview(context.Background(), sub)
			require.Error(t, err)
			assert.Equal(t, common.CodeInvalidInput, common.ErrorCode(err))
		})
	}
}

func TestSubmitReviewEmitsAuditWithoutContent(t *testing.T) {
	f := newReviewFixture()
	f.seedItem(t, "item-1", "tenant-1", 0.40)

	review, err := f.service.SubmitReview(context.Background(), validReview("item-1"))
	require.NoError(t, err)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventItemReviewed, events[0].Type)
	assert.Equal(t, map[string]interface{}{
		"item_id":     "item-1",
		"review_id":   review.ID,
		"reviewer_id": "user-1",
	}, events[0].Payload)
}

func TestReviewQueueOrdersByConfidence(t *testing.T) {
	f := newReviewFixture()
	f.seedItem(t, "item-a", "tenant-1", 0.71)
	f.seedItem(t, "item-b", "tenant-1", 0.12)
	f.seedItem(t, "item-c", "tenant-1", 0.55)
	f.seedItem(t, "item-other", "tenant-2", 0.01)

	queue, err := f.service.ReviewQueue(context.Background(), "tenant-1", 2)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "item-b", queue[0].ID)
	assert.Equal(t, "item-c", queue[1].ID)
}
