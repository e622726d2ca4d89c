package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type courseInstanceRepository interface {
	FindByID(ctx context.Context, id string) (*models.CourseInstance, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseInstanceDetail, error)
	Create(ctx context.Context, instance *models.CourseInstance) error
	List(ctx context.Context, filter models.CourseInstanceFilter) ([]models.CourseInstanceDetail, int, error)
}

// CreateCourseInstanceRequest describes a new section.
type CreateCourseInstanceRequest struct {
	CourseID       string `json:"course_id" validate:"required"`
	AcademicYearID string `json:"academic_year_id" validate:"required"`
	TeacherID      string `json:"teacher_id" validate:"required"`
	Capacity       int    `json:"capacity" validate:"required,gt=0"`
	Day1           int    `json:"day1" validate:"min=0,max=6"`
	Day2           *int   `json:"day2,omitempty"`
	StartTime      string `json:"start_time" validate:"required"`
	EndTime        string `json:"end_time" validate:"required"`
}

// CourseInstanceService manages the section catalog surface.
type CourseInstanceService struct {
	repo      courseInstanceRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseInstanceService constructs a CourseInstanceService.
func NewCourseInstanceService(repo courseInstanceRepository, validate *validator.Validate, logger *zap.Logger) *CourseInstanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseInstanceService{repo: repo, validator: validate, logger: logger}
}

// Create validates and persists a new course instance. Schedule rules are
// enforced here so stored rows always expand into well-formed meetings:
// times must parse, the window must be non-empty, and a second meeting day
// must differ from the first.
func (s *CourseInstanceService) Create(ctx context.Context, req CreateCourseInstanceRequest) (*models.CourseInstance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course instance payload")
	}

	start, err := models.MinuteOfDay(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time %q, expected HH:MM", req.StartTime))
	}
	end, err := models.MinuteOfDay(req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time %q, expected HH:MM", req.EndTime))
	}
	if end <= start {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	if req.Day2 != nil {
		if *req.Day2 < 0 || *req.Day2 > 6 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "day2 must be between 0 and 6")
		}
		if *req.Day2 == req.Day1 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "day2 must differ from day1")
		}
	}

	instance := &models.CourseInstance{
		CourseID:       req.CourseID,
		AcademicYearID: req.AcademicYearID,
		TeacherID:      req.TeacherID,
		Capacity:       req.Capacity,
		Day1:           req.Day1,
		Day2:           req.Day2,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
	}
	if err := s.repo.Create(ctx, instance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course instance")
	}

	s.logger.Info("course instance created",
		zap.String("course_instance_id", instance.ID),
		zap.String("course_id", instance.CourseID),
		zap.Int("capacity", instance.Capacity),
	)
	return instance, nil
}

// Get returns a course instance with catalog context.
func (s *CourseInstanceService) Get(ctx context.Context, id string) (*models.CourseInstanceDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course instance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course instance")
	}
	return detail, nil
}

// List returns instances matching the filter.
func (s *CourseInstanceService) List(ctx context.Context, filter models.CourseInstanceFilter) ([]models.CourseInstanceDetail, *models.Pagination, error) {
	instances, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course instances")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return instances, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
