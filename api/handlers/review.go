package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vitohq/document-intelligence/api/middleware"
	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/service/review"
	"github.com/vitohq/document-intelligence/pkg/logger"
)

type ReviewHandler struct {
	service *review.Service
	logger  logger.Logger
}

func NewReviewHandler(service *review.Service, logger logger.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: service,
		logger:  logger,
	}
}

type reviewRequest struct {
	CorrectedText           string          `json:"corrected_text"`
	CorrectedStructuredData json.RawMessage `json:"corrected_structured_data"`
	ReviewNotes             string          `json:"review_notes"`
	ReviewerConfidence      float64         `json:"reviewer_confidence"`
}

// GetQueue lists items awaiting human review, lowest confidence first.
func (h *ReviewHandler) GetQueue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.service.ReviewQueue(c.Request.Context(), middleware.TenantID(c), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// SubmitReview records a human correction for an item.
func (h *ReviewHandler) SubmitReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, common.InvalidInputError("invalid request body"))
		return
	}

	result, err := h.service.SubmitReview(c.Request.Context(), &review.Submission{
		TenantID:                middleware.TenantID(c),
		ItemID:                  c.Param("itemId"),
		CorrectedText:           req.CorrectedText,
		CorrectedStructuredData: req.CorrectedStructuredData,
		ReviewNotes:             req.ReviewNotes,
		ReviewerConfidence:      req.ReviewerConfidence,
		ReviewedByUserID:        middleware.UserID(c),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetItemReviews lists every correction recorded for an item.
func (h *ReviewHandler) GetItemReviews(c *gin.Context) {
	reviews, err := h.service.ItemReviews(c.Request.Context(), middleware.TenantID(c), c.Param("itemId"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

func (h *ReviewHandler) handleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "request failed"

	switch common.ErrorCode(err) {
	case common.CodeInvalidInput:
		status = http.StatusBadRequest
		code = common.CodeInvalidInput
		message = err.Error()
	case common.CodeNotFound:
		status = http.StatusNotFound
		code = common.CodeNotFound
		message = "resource not found"
	}

	h.logger.Error("Request failed",
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	c.JSON(status, ErrorResponse{Error: code, Message: message})
}
