package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/service"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/response"
)

// CourseInstanceHandler exposes the section catalog endpoints.
type CourseInstanceHandler struct {
	instances *service.CourseInstanceService
}

// NewCourseInstanceHandler constructs CourseInstanceHandler.
func NewCourseInstanceHandler(instances *service.CourseInstanceService) *CourseInstanceHandler {
	return &CourseInstanceHandler{instances: instances}
}

// List godoc
// @Summary List course instances
// @Tags CourseInstances
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param academicYearId query string false "Filter by academic year"
// @Param teacherId query string false "Filter by teacher"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /course-instances [get]
func (h *CourseInstanceHandler) List(c *gin.Context) {
	var filter models.CourseInstanceFilter
	filter.CourseID = c.Query("courseId")
	filter.AcademicYearID = c.Query("academicYearId")
	filter.TeacherID = c.Query("teacherId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	instances, pagination, err := h.instances.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instances, pagination)
}

// Get godoc
// @Summary Get a course instance
// @Tags CourseInstances
// @Produce json
// @Param id path string true "Course instance ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /course-instances/{id} [get]
func (h *CourseInstanceHandler) Get(c *gin.Context) {
	detail, err := h.instances.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create a course instance
// @Tags CourseInstances
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseInstanceRequest true "Course instance payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /course-instances [post]
func (h *CourseInstanceHandler) Create(c *gin.Context) {
	var req service.CreateCourseInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	instance, err := h.instances.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, instance)
}
