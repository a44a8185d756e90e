package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/internal/service"
	"github.com/cursolab/gestao-api/pkg/response"
)

// AuditHandler exposes the audit trail read endpoint.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List godoc
// @Summary List audit trail entries
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param actorId query string false "Filter by acting user"
// @Param action query string false "Filter by action"
// @Param entity query string false "Filter by entity type"
// @Param entityId query string false "Filter by entity ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	var filter models.AuditLogFilter
	filter.ActorID = c.Query("actorId")
	filter.Action = c.Query("action")
	filter.Entity = c.Query("entity")
	filter.EntityID = c.Query("entityId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	entries, pagination, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}
