package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"unitcast/internal/core/apperror"
	"unitcast/internal/domain/projection"
)

// ProjectionHandler serves read access to the denormalized unit projections.
type ProjectionHandler struct {
	*BaseHandler
	resolver *projection.Resolver
}

// NewProjectionHandler creates a new projection handler.
func NewProjectionHandler(base *BaseHandler, resolver *projection.Resolver) *ProjectionHandler {
	return &ProjectionHandler{
		BaseHandler: base,
		resolver:    resolver,
	}
}

// Get fetches a single projection by its composite key.
// GET /api/v1/projections?pk=...&sk=...
func (h *ProjectionHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	pk := c.Query("pk")
	sk := c.Query("sk")
	if pk == "" || sk == "" {
		h.Error(c, apperror.NewValidation("pk and sk query parameters are required"))
		return
	}

	rec, err := h.resolver.Lookup(ctx, projection.Identity{PartitionKey: pk, SortKey: sk})
	if err != nil {
		if errors.Is(err, projection.ErrNotFound) {
			h.Error(c, apperror.NewNotFound("projection", pk+"/"+sk))
			return
		}
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}
