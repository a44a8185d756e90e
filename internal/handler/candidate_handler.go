package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/internal/service"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
	"github.com/cursolab/gestao-api/pkg/response"
)

// CandidateHandler exposes candidate lifecycle endpoints.
type CandidateHandler struct {
	candidates *service.CandidateService
}

// NewCandidateHandler constructs CandidateHandler.
func NewCandidateHandler(candidates *service.CandidateService) *CandidateHandler {
	return &CandidateHandler{candidates: candidates}
}

// List godoc
// @Summary List candidates
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param search query string false "Search by name, email or CPF"
// @Param status query string false "Filter by status (PENDENTE, APROVADO, REPROVADO)"
// @Param classId query string false "Filter by desired class"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /candidates [get]
func (h *CandidateHandler) List(c *gin.Context) {
	var filter models.CandidateFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Status = models.CandidateStatus(c.Query("status"))
	filter.ClassID = c.Query("classId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	candidates, pagination, err := h.candidates.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidates, pagination)
}

// Get godoc
// @Summary Get candidate detail
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id} [get]
func (h *CandidateHandler) Get(c *gin.Context) {
	candidate, err := h.candidates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidate, nil)
}

// Create godoc
// @Summary Register candidate
// @Tags Candidates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateCandidateRequest true "Candidate payload"
// @Success 201 {object} response.Envelope
// @Router /candidates [post]
func (h *CandidateHandler) Create(c *gin.Context) {
	var req service.CreateCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	candidate, err := h.candidates.Create(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, candidate)
}

// Update godoc
// @Summary Update candidate contact data
// @Tags Candidates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Param payload body service.UpdateCandidateRequest true "Candidate payload"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id} [put]
func (h *CandidateHandler) Update(c *gin.Context) {
	var req service.UpdateCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	candidate, err := h.candidates.Update(c.Request.Context(), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidate, nil)
}

// Approve godoc
// @Summary Approve candidate and enroll as student
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id}/approve [post]
func (h *CandidateHandler) Approve(c *gin.Context) {
	result, err := h.candidates.Approve(c.Request.Context(), c.Param("id"), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reject godoc
// @Summary Reject candidate
// @Tags Candidates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Param payload body service.RejectCandidateRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /candidates/{id}/reject [post]
func (h *CandidateHandler) Reject(c *gin.Context) {
	var req service.RejectCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	candidate, err := h.candidates.Reject(c.Request.Context(), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidate, nil)
}

// Delete godoc
// @Summary Delete candidate
// @Tags Candidates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Candidate ID"
// @Success 204
// @Router /candidates/{id} [delete]
func (h *CandidateHandler) Delete(c *gin.Context) {
	if err := h.candidates.Delete(c.Request.Context(), c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
