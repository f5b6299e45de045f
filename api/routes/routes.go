package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/vitohq/document-intelligence/api/handlers"
	"github.com/vitohq/document-intelligence/api/middleware"
)

func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(middleware.TenantAuth())

	docs := v1.Group("/documents")
	{
		docs.POST("/ingest", h.Document.IngestDocument)
		docs.POST("/batch", h.Document.IngestBatch)
		docs.GET("/:jobId", h.Document.GetStatus)
		docs.GET("/:jobId/items", h.Document.GetItems)
	}

	reviews := v1.Group("/reviews")
	{
		reviews.GET("/queue", h.Review.GetQueue)
		reviews.POST("/items/:itemId", h.Review.SubmitReview)
		reviews.GET("/items/:itemId", h.Review.GetItemReviews)
	}
}
