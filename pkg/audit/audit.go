package audit

import (
	"context"
	"time"
)

// Event names emitted by the pipeline.
const (
	EventDocumentIngested       = "document.ingested"
	EventOCRCompleted           = "ocr.completed"
	EventItemsExtracted         = "items.extracted"
	EventDocumentCompleted      = "document.completed"
	EventDocumentFailed         = "document.failed"
	EventDocumentReviewRequired = "document.review_required"
	EventItemReviewed           = "item.reviewed"
)

// Event is one append-only audit record. Payload content policy is the
// sink's concern; emitters keep sensitive extraction content out of
// the payload entirely.
type Event struct {
	Type          string                 `json:"type"`
	TenantID      string                 `json:"tenant_id"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// Sink is the append-only audit adapter. Emission is fire-and-forget
// from the caller's perspective: failures are logged, never allowed to
// fail the owning operation.
type Sink interface {
	EmitEvent(ctx context.Context, event Event) error
}
