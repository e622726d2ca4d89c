package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/service"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/response"
)

// EnrollmentHandler exposes enrollment and schedule endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	exports     *service.ExportService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, exports *service.ExportService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, exports: exports}
}

// Enroll godoc
// @Summary Enroll in a course instance
// @Description Enroll the authenticated student into a section, subject to capacity, prerequisite and schedule checks
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	actor := authContextFromClaims(claimsFromContext(c))
	if req.StudentID == "" {
		req.StudentID = actor.StudentID
	}

	enrollment, err := h.enrollments.Enroll(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Drop godoc
// @Summary Drop an enrollment
// @Description Drop the authenticated student's active enrollment, freeing the seat
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Drop payload"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	actor := authContextFromClaims(claimsFromContext(c))
	if req.StudentID == "" {
		req.StudentID = actor.StudentID
	}

	if err := h.enrollments.Drop(c.Request.Context(), actor, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AdminEnroll godoc
// @Summary Enroll any student (admin)
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /admin/enrollments [post]
func (h *EnrollmentHandler) AdminEnroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	actor := authContextFromClaims(claimsFromContext(c))
	enrollment, err := h.enrollments.AdminEnroll(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// AdminDrop godoc
// @Summary Drop any student's enrollment (admin)
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Drop payload"
// @Success 204 {object} response.Envelope
// @Router /admin/enrollments [delete]
func (h *EnrollmentHandler) AdminDrop(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	actor := authContextFromClaims(claimsFromContext(c))
	if err := h.enrollments.AdminDrop(c.Request.Context(), actor, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Schedule godoc
// @Summary Get a student's weekly schedule
// @Tags Enrollments
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/schedule [get]
func (h *EnrollmentHandler) Schedule(c *gin.Context) {
	actor := authContextFromClaims(claimsFromContext(c))
	details, err := h.enrollments.GetStudentSchedule(c.Request.Context(), actor, c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}

// Roster godoc
// @Summary List active enrollments of a course instance
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course instance ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /course-instances/{id}/enrollments [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	roster, pagination, err := h.enrollments.GetCourseEnrollments(c.Request.Context(), c.Param("id"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, pagination)
}

// Capacity godoc
// @Summary Check remaining capacity of a course instance
// @Description Advisory capacity figure, possibly served from cache
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course instance ID"
// @Success 200 {object} response.Envelope
// @Router /course-instances/{id}/capacity [get]
func (h *EnrollmentHandler) Capacity(c *gin.Context) {
	status, err := h.enrollments.HasCapacity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ExportRoster godoc
// @Summary Export a section roster
// @Description Download the active roster as CSV or PDF
// @Tags Enrollments
// @Produce octet-stream
// @Param id path string true "Course instance ID"
// @Param format query string false "Export format (csv or pdf)"
// @Success 200 {file} binary
// @Router /course-instances/{id}/enrollments/export [get]
func (h *EnrollmentHandler) ExportRoster(c *gin.Context) {
	format := service.RosterFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exports.GenerateRoster(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.DownloadToken != "" {
		c.Header("X-Download-Token", result.DownloadToken)
		c.Header("X-Download-Expires", result.DownloadExpiresAt.UTC().Format(time.RFC3339))
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// DownloadRoster godoc
// @Summary Re-download an archived roster export
// @Description Streams a previously generated roster using a signed download token
// @Tags Enrollments
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /downloads/rosters [get]
func (h *EnrollmentHandler) DownloadRoster(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}

	result, err := h.exports.FetchArchived(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
