package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"unitcast/internal/core/apperror"
	"unitcast/internal/domain/projection"
	"unitcast/internal/infrastructure/storage/postgres"
)

// JournalReader fetches recorded projection outcomes for one identity.
type JournalReader interface {
	History(ctx context.Context, pid projection.Identity, limit int) ([]postgres.JournalRow, error)
}

// JournalHandler serves the per-projection processing history.
type JournalHandler struct {
	*BaseHandler
	journal JournalReader
}

// NewJournalHandler creates a new journal handler.
func NewJournalHandler(base *BaseHandler, journal JournalReader) *JournalHandler {
	return &JournalHandler{
		BaseHandler: base,
		journal:     journal,
	}
}

// History lists journal entries for a projection, newest first.
// GET /api/v1/journal?pk=...&sk=...&limit=20
func (h *JournalHandler) History(c *gin.Context) {
	ctx := c.Request.Context()

	pk := c.Query("pk")
	sk := c.Query("sk")
	if pk == "" || sk == "" {
		h.Error(c, apperror.NewValidation("pk and sk query parameters are required"))
		return
	}

	limit := h.ParseIntQuery(c, "limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := h.journal.History(ctx, projection.Identity{PartitionKey: pk, SortKey: sk}, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		item := gin.H{
			"id":        row.ID.String(),
			"recordId":  row.RecordID,
			"eventKind": row.EventKind,
			"action":    row.Action,
			"pk":        row.PartitionKey,
			"sk":        row.SortKey,
			"createdAt": row.CreatedAt,
		}
		if len(row.Payload) > 0 {
			item["payload"] = row.Payload
		}
		if row.Error != nil {
			item["error"] = *row.Error
		}
		items = append(items, item)
	}

	h.OK(c, gin.H{
		"items":      items,
		"totalCount": len(items),
	})
}
