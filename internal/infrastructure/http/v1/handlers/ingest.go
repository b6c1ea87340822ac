package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"unitcast/internal/domain/changefeed"
	"unitcast/internal/domain/projection"
)

// Dispatcher processes a decoded batch of change records.
type Dispatcher interface {
	HandleBatch(ctx context.Context, records []changefeed.ChangeRecord) projection.BatchResult
}

// IngestHandler receives change batches pushed over HTTP and feeds them to
// the dispatcher. The response mirrors the dispatcher outcome contract:
// per-record failures are logged and retried upstream, not reported here.
type IngestHandler struct {
	*BaseHandler
	dispatcher Dispatcher
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(base *BaseHandler, dispatcher Dispatcher) *IngestHandler {
	return &IngestHandler{
		BaseHandler: base,
		dispatcher:  dispatcher,
	}
}

// HandleChanges accepts a batch of change records.
// POST /api/v1/changes
func (h *IngestHandler) HandleChanges(c *gin.Context) {
	ctx := c.Request.Context()

	var batch changefeed.Batch
	if !h.BindJSON(c, &batch) {
		return
	}

	result := h.dispatcher.HandleBatch(ctx, batch.Records)

	outcome := result.Outcome()
	c.String(outcome.StatusCode, outcome.Body)
}
