package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/internal/service"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
	"github.com/cursolab/gestao-api/pkg/response"
)

// AttendanceHandler exposes attendance recording and report endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param classId query string false "Filter by class"
// @Param studentId query string false "Filter by student"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	var filter models.AttendanceFilter
	filter.ClassID = c.Query("classId")
	filter.StudentID = c.Query("studentId")
	if status := c.Query("status"); status != "" {
		s := models.AttendanceStatus(status)
		filter.Status = &s
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.DateFrom = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.DateTo = &t
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	records, pagination, err := h.attendance.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// RecordBatch godoc
// @Summary Record an attendance sheet for a class
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Param payload body service.RecordBatchRequest true "Attendance sheet"
// @Success 201 {object} response.Envelope
// @Router /classes/{id}/attendance [post]
func (h *AttendanceHandler) RecordBatch(c *gin.Context) {
	var req service.RecordBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	records, err := h.attendance.RecordBatch(c.Request.Context(), c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, records)
}

// ClassReport godoc
// @Summary Attendance report for a class and date
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance [get]
func (h *AttendanceHandler) ClassReport(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
		return
	}
	rows, err := h.attendance.ClassReport(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
