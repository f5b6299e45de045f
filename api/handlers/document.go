package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitohq/document-intelligence/api/middleware"
	"github.com/vitohq/document-intelligence/internal/common"
	"github.com/vitohq/document-intelligence/internal/service/ingest"
	"github.com/vitohq/document-intelligence/pkg/logger"
)

type DocumentHandler struct {
	service *ingest.Service
	logger  logger.Logger
}

// ErrorResponse is the uniform error body. Message carries the failure
// class only, never document content.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewDocumentHandler(service *ingest.Service, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger,
	}
}

// IngestDocument admits one document for asynchronous processing.
func (h *DocumentHandler) IngestDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, common.InvalidInputError("file upload is required"))
		return
	}
	defer file.Close()

	sub, err := h.submission(c, file, header)
	if err != nil {
		h.handleError(c, err)
		return
	}

	receipt, err := h.service.Submit(c.Request.Context(), sub)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, receipt)
}

// IngestBatch admits several documents in one request.
func (h *DocumentHandler) IngestBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, common.InvalidInputError("invalid form data"))
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, common.InvalidInputError("no files provided"))
		return
	}

	subs := make([]*ingest.Submission, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			h.handleError(c, common.InvalidInputError("unreadable file in batch"))
			return
		}
		sub, err := h.submission(c, file, header)
		file.Close()
		if err != nil {
			h.handleError(c, err)
			return
		}
		// external_ref cannot apply to a whole batch.
		sub.ExternalRef = ""
		subs = append(subs, sub)
	}

	receipts, err := h.service.SubmitBatch(c.Request.Context(), subs)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("Processing %d documents", len(receipts)),
		"jobs":    receipts,
	})
}

// GetStatus reports a job's lifecycle state.
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), middleware.TenantID(c), c.Param("jobId"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":         job.ID,
		"status":         job.Status,
		"correlation_id": job.CorrelationID,
		"attempts":       job.Attempts,
		"error_message":  job.ErrorMessage,
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
		"processed_at":   job.ProcessedAt,
	})
}

// GetItems returns the extracted items of a job.
func (h *DocumentHandler) GetItems(c *gin.Context) {
	jobID := c.Param("jobId")
	items, err := h.service.JobItems(c.Request.Context(), middleware.TenantID(c), jobID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"items":  items,
	})
}

func (h *DocumentHandler) submission(c *gin.Context, file multipart.File, header *multipart.FileHeader) (*ingest.Submission, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, common.InvalidInputError("failed to read uploaded file")
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &ingest.Submission{
		TenantID:          middleware.TenantID(c),
		IntegrationID:     c.PostForm("integration_id"),
		DocumentProfileID: c.PostForm("profile_id"),
		FileBytes:         data,
		Filename:          header.Filename,
		MimeType:          mimeType,
		ExternalRef:       c.PostForm("external_ref"),
	}, nil
}

func (h *DocumentHandler) handleError(c *gin.Context, err error) {
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
