package handlers

import (
	"github.com/vitohq/document-intelligence/internal/service/ingest"
	"github.com/vitohq/document-intelligence/internal/service/review"
	"github.com/vitohq/document-intelligence/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Review   *ReviewHandler
}

func NewHandlers(
	ingestService *ingest.Service,
	reviewService *review.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(ingestService, logger),
		Review:   NewReviewHandler(reviewService, logger),
	}
}
