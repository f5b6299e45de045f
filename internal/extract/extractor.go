package extract

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCorruptDocument marks input that can never be processed; the
// worker fails such jobs without retrying.
var ErrCorruptDocument = errors.New("corrupt or unreadable document")

// ErrUnsupportedFormat marks a mime type the provider cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ExtractedItem is one unit produced by a provider: a field, line, or
// region with its verbatim text and the provider's confidence in it.
type ExtractedItem struct {
	RawText        string
	StructuredData json.RawMessage
	Confidence     float64 // 0..1
}

// Result is the output of one provider invocation.
type Result struct {
	Items        []ExtractedItem
	Pages        int
	Provider     string
	ModelVersion string
	Duration     time.Duration
}

// Provider turns document bytes into extracted items. Rules come from
// the document profile and are provider-specific; providers ignore
// rules they do not understand.
type Provider interface {
	Name() string
	Extract(ctx context.Context, data []byte, mimeType string, rules json.RawMessage) (*Result, error)
}

// Rules is the shared shape of profile extraction rules. Providers
// read the parts they support.
type Rules struct {
	// Queries are natural-language field queries (Textract).
	Queries []FieldQuery `json:"queries,omitempty"`
	// Languages hints OCR language packs (Tesseract).
	Languages []string `json:"languages,omitempty"`
}

type FieldQuery struct {
	Text  string `json:"text"`
	Alias string `json:"alias,omitempty"`
}

// ParseRules decodes profile rules, tolerating empty input.
func ParseRules(raw json.RawMessage) (Rules, error) {
	var rules Rules
	if len(raw) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return rules, err
	}
	return rules, nil
}
