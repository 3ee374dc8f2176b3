package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oktriage/first-responder/internal/model"
)

// Register mounts the ingestion endpoint on the router.
func (i *Ingestor) Register(r gin.IRouter) {
	r.POST("/ingest", i.handleIngest)
}

func (i *Ingestor) handleIngest(c *gin.Context) {
	var ev RawEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	alertID, err := i.Ingest(c.Request.Context(), ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"alert_id": alertID})
	case errors.Is(err, model.ErrAlertExists):
		// Already ingested; treat as a no-op.
		c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "status": "already_ingested"})
	case errors.Is(err, model.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrDegradedIngest):
		// Stored but not enqueued; the caller must resubmit for analysis.
		c.JSON(http.StatusBadGateway, gin.H{"alert_id": alertID, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
