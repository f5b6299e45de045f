package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the processing lifecycle of a DocumentJob.
type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
	JobStatusReviewRequired JobStatus = "review_required"
)

// Terminal reports whether automated processing is finished for this
// status. review_required is terminal for the worker; the review flow
// operates on items without moving the job back.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusReviewRequired:
		return true
	}
	return false
}

// DocumentJob is one document-processing request.
type DocumentJob struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID          string    `gorm:"index;not null;size:36" json:"tenant_id"`
	CorrelationID     string    `gorm:"size:36" json:"correlation_id"`
	IntegrationID     string    `gorm:"size:36" json:"integration_id"`
	DocumentProfileID string    `gorm:"size:36;not null" json:"document_profile_id"`
	StoragePath       string    `gorm:"size:512;not null" json:"storage_path"`
	MimeType          string    `gorm:"size:128;not null" json:"mime_type"`
	OriginalFilename  string    `gorm:"size:512" json:"original_filename"`
	FileSizeBytes     int64     `json:"file_size_bytes"`
	ExternalRef       string    `gorm:"size:255;index:idx_document_jobs_tenant_ref" json:"external_ref,omitempty"`
	Status            JobStatus `gorm:"size:32;index;not null" json:"status"`
	Attempts          int       `gorm:"default:0" json:"attempts"`
	// ErrorMessage describes the failure class only. It must never
	// contain extracted text or the original filename.
	ErrorMessage string     `gorm:"size:512" json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProcessedAt  *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
}

// DocumentProfile is the extraction rule-set selected at ingest time.
// Read-only to the worker.
type DocumentProfile struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	TenantID string `gorm:"index;not null;size:36" json:"tenant_id"`
	Name     string `gorm:"size:255;not null" json:"name"`
	// ConfidenceThreshold gates review_required. Required per profile,
	// no system-wide default.
	ConfidenceThreshold float64 `gorm:"not null" json:"confidence_threshold"`
	// ExtractionRules is provider-specific guidance (queries, field
	// hints) forwarded opaquely to the OCR provider.
	ExtractionRules json.RawMessage `gorm:"type:jsonb" json:"extraction_rules,omitempty"`
	// FieldSchema is an optional JSON Schema applied to each item's
	// structured_data; violations force the item into review.
	FieldSchema string    `gorm:"type:text" json:"field_schema,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DocumentItem is one extracted unit belonging to exactly one job.
// RawText is write-once: a job retry deletes and recreates items, it
// never edits them in place.
type DocumentItem struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string          `gorm:"index;not null;size:36" json:"tenant_id"`
	DocumentJobID  string          `gorm:"index;not null;size:36" json:"document_job_id"`
	ItemIndex      int             `json:"item_index"`
	RawText        string          `gorm:"type:text;not null" json:"raw_text"`
	StructuredData json.RawMessage `gorm:"type:jsonb" json:"structured_data,omitempty"`
	Confidence     float64         `gorm:"index" json:"confidence"`
	NeedsReview    bool            `gorm:"index" json:"needs_review"`
	Reviewed       bool            `gorm:"default:false" json:"reviewed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HumanReview is an additive correction layered on top of an item.
// Creating one never mutates the item's raw_text; multiple reviews per
// item are permitted and all are kept.
type HumanReview struct {
	ID                      string          `gorm:"primaryKey;size:36" json:"id"`
	TenantID                string          `gorm:"index;not null;size:36" json:"tenant_id"`
	DocumentItemID          string          `gorm:"index;not null;size:36" json:"document_item_id"`
	CorrectedText           string          `gorm:"type:text" json:"corrected_text,omitempty"`
	CorrectedStructuredData json.RawMessage `gorm:"type:jsonb" json:"corrected_structured_data,omitempty"`
	ReviewNotes             string          `gorm:"type:text" json:"review_notes,omitempty"`
	ReviewerConfidence      float64         `json:"reviewer_confidence,omitempty"`
	ReviewedByUserID        string          `gorm:"size:36;not null" json:"reviewed_by_user_id"`
	CompletedAt             time.Time       `json:"completed_at"`
}

// UsageEntry is one ledger row per successfully finalized job. The
// single-write guarantee comes from the finalize CAS on the job
// status, not from a uniqueness constraint here.
type UsageEntry struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	TenantID         string          `gorm:"index;not null;size:36" json:"tenant_id"`
	IntegrationID    string          `gorm:"size:36" json:"integration_id"`
	DocumentJobID    string          `gorm:"index;not null;size:36" json:"document_job_id"`
	Provider         string          `gorm:"size:64;not null" json:"provider"`
	ModelVersion     string          `gorm:"size:64" json:"model_version,omitempty"`
	PagesProcessed   int             `json:"pages_processed"`
	FileSizeBytes    int64           `json:"file_size_bytes"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	Cost             decimal.Decimal `gorm:"type:decimal(12,6)" json:"cost"`
	CreatedAt        time.Time       `json:"created_at"`
}
