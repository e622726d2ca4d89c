package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/repository"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
	"github.com/campusreg/enroll-api/pkg/jobs"
)

// Admission decision outcomes reported to metrics.
const (
	OutcomeEnrolled           = "enrolled"
	OutcomeDropped            = "dropped"
	OutcomeNotFound           = "not_found"
	OutcomeAlreadyEnrolled    = "already_enrolled"
	OutcomePrerequisiteNotMet = "prerequisite_not_met"
	OutcomeScheduleConflict   = "schedule_conflict"
	OutcomeCourseFull         = "course_full"
	OutcomeConflict           = "conflict"
	OutcomeInternalError      = "internal_error"
)

// JobTypeSeatRefresh labels the async advisory-cache refresh job.
const JobTypeSeatRefresh = "seat_cache_refresh"

type txRunner interface {
	WithinTx(ctx context.Context, fn func(q repository.Querier) error) error
}

type enrollmentRepository interface {
	CountActive(ctx context.Context, q repository.Querier, instanceID string) (int, error)
	ExistsActive(ctx context.Context, q repository.Querier, studentID, instanceID string) (bool, error)
	Create(ctx context.Context, q repository.Querier, enrollment *models.Enrollment) error
	MarkDropped(ctx context.Context, q repository.Querier, studentID, instanceID string, droppedAt time.Time) (int64, error)
	ListActiveByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListActiveByStudentScoped(ctx context.Context, q repository.Querier, studentID string) ([]models.EnrollmentDetail, error)
	ListByInstance(ctx context.Context, instanceID string, page, pageSize int) ([]models.RosterEntry, int, error)
	CountActiveLive(ctx context.Context, instanceID string) (int, error)
}

type courseInstanceReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseInstance, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseInstanceDetail, error)
	LockByID(ctx context.Context, q repository.Querier, id string) (*models.CourseInstance, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type gradeReader interface {
	HasPassingGrade(ctx context.Context, q repository.Querier, studentID, courseID string) (bool, error)
}

// SeatCache is the advisory remaining-seats cache. A nil SeatCache disables
// advisory reads; capacity queries then always count live.
type SeatCache interface {
	GetRemaining(ctx context.Context, instanceID string) (int, error)
	SetRemaining(ctx context.Context, instanceID string, remaining int) error
	Invalidate(ctx context.Context, instanceID string) error
}

type decisionRecorder interface {
	RecordEnrollmentDecision(operation, outcome string)
	RecordSeatCacheLookup(hit bool)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// EnrollRequest describes an enrollment or drop request.
type EnrollRequest struct {
	StudentID        string `json:"student_id" validate:"required"`
	CourseInstanceID string `json:"course_instance_id" validate:"required"`
}

// CapacityStatus answers the advisory capacity query.
type CapacityStatus struct {
	CourseInstanceID string `json:"course_instance_id"`
	Capacity         int    `json:"capacity"`
	Enrolled         int    `json:"enrolled"`
	HasCapacity      bool   `json:"has_capacity"`
}

// EnrollmentService coordinates admission control: every enrollment attempt
// runs its capacity re-check and row insert inside one transaction that
// holds the course instance row lock, so racing requests for the last seat
// serialize and exactly one wins.
type EnrollmentService struct {
	runner    txRunner
	repo      enrollmentRepository
	instances courseInstanceReader
	students  studentReader
	grades    gradeReader
	seats     SeatCache
	metrics   decisionRecorder
	queue     jobEnqueuer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(runner txRunner, repo enrollmentRepository, instances courseInstanceReader, students studentReader, grades gradeReader, seats SeatCache, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		runner:    runner,
		repo:      repo,
		instances: instances,
		students:  students,
		grades:    grades,
		seats:     seats,
		validator: validate,
		logger:    logger,
	}
}

// SetMetrics attaches the decision recorder.
func (s *EnrollmentService) SetMetrics(m decisionRecorder) { s.metrics = m }

// SetSeatRefreshQueue attaches the async cache refresh queue.
func (s *EnrollmentService) SetSeatRefreshQueue(q jobEnqueuer) { s.queue = q }

// Enroll admits a student into a course instance on the self-service path.
// The caller must own the student identity or hold the admin override.
func (s *EnrollmentService) Enroll(ctx context.Context, actor AuthContext, req EnrollRequest) (*models.Enrollment, error) {
	if !actor.CanActFor(req.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot enroll another student")
	}
	return s.admit(ctx, req)
}

// AdminEnroll admits any student on behalf of an administrator. The
// admission checks themselves are never bypassed; they protect data
// integrity, not authorization.
func (s *EnrollmentService) AdminEnroll(ctx context.Context, actor AuthContext, req EnrollRequest) (*models.Enrollment, error) {
	if !actor.AdminOverride() {
		return nil, appErrors.ErrForbidden
	}
	return s.admit(ctx, req)
}

// Drop releases the student's seat on the self-service path.
func (s *EnrollmentService) Drop(ctx context.Context, actor AuthContext, req EnrollRequest) error {
	if !actor.CanActFor(req.StudentID) {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot drop another student")
	}
	return s.drop(ctx, req)
}

// AdminDrop releases any student's seat on behalf of an administrator.
func (s *EnrollmentService) AdminDrop(ctx context.Context, actor AuthContext, req EnrollRequest) error {
	if !actor.AdminOverride() {
		return appErrors.ErrForbidden
	}
	return s.drop(ctx, req)
}

func (s *EnrollmentService) admit(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject("enroll", OutcomeNotFound, appErrors.Clone(appErrors.ErrNotFound, "student not found"))
		}
		return nil, s.infra("enroll", err, "failed to load student")
	}
	if !student.Active {
		return nil, s.reject("enroll", OutcomeConflict, appErrors.Clone(appErrors.ErrConflict, "student is not active"))
	}

	// Catalog context (prerequisite course id) is stable and safe to read
	// outside the transaction; everything race-sensitive is re-read under
	// the instance lock below.
	detail, err := s.instances.FindDetailByID(ctx, req.CourseInstanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject("enroll", OutcomeNotFound, appErrors.Clone(appErrors.ErrNotFound, "course instance not found"))
		}
		return nil, s.infra("enroll", err, "failed to load course instance")
	}

	enrollment := &models.Enrollment{
		StudentID:        req.StudentID,
		CourseInstanceID: req.CourseInstanceID,
		Status:           models.EnrollmentStatusActive,
		EnrolledAt:       time.Now().UTC(),
	}

	txErr := s.runner.WithinTx(ctx, func(q repository.Querier) error {
		instance, err := s.instances.LockByID(ctx, q, req.CourseInstanceID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course instance not found")
			}
			return err
		}

		exists, err := s.repo.ExistsActive(ctx, q, req.StudentID, req.CourseInstanceID)
		if err != nil {
			return err
		}
		if exists {
			return appErrors.ErrAlreadyEnrolled
		}

		if detail.PrerequisiteCourseID != nil {
			passed, err := s.grades.HasPassingGrade(ctx, q, req.StudentID, *detail.PrerequisiteCourseID)
			if err != nil {
				return err
			}
			if !passed {
				return appErrors.ErrPrerequisiteNotMet
			}
		}

		schedule, err := s.repo.ListActiveByStudentScoped(ctx, q, req.StudentID)
		if err != nil {
			return err
		}
		existing, err := models.ScheduleMeetings(schedule)
		if err != nil {
			return err
		}
		candidate, err := instance.Meetings()
		if err != nil {
			return err
		}
		if _, conflict := FindScheduleConflict(existing, candidate); conflict {
			return appErrors.ErrScheduleConflict
		}

		// The authoritative seat check: occupancy derived from a live count
		// under the same lock that guards the insert.
		occupied, err := s.repo.CountActive(ctx, q, req.CourseInstanceID)
		if err != nil {
			return err
		}
		if occupied >= instance.Capacity {
			return appErrors.ErrCourseFull
		}

		if err := s.repo.Create(ctx, q, enrollment); err != nil {
			if repository.IsUniqueViolation(err) {
				return appErrors.ErrAlreadyEnrolled
			}
			return err
		}
		return nil
	})

	if txErr != nil {
		return nil, s.classify("enroll", txErr)
	}

	s.record("enroll", OutcomeEnrolled)
	s.enqueueSeatRefresh(req.CourseInstanceID)
	s.logger.Info("student enrolled",
		zap.String("student_id", req.StudentID),
		zap.String("course_instance_id", req.CourseInstanceID),
		zap.String("enrollment_id", enrollment.ID),
	)
	return enrollment, nil
}

func (s *EnrollmentService) drop(ctx context.Context, req EnrollRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}

	droppedAt := time.Now().UTC()
	txErr := s.runner.WithinTx(ctx, func(q repository.Querier) error {
		// Lock the instance so drops serialize with racing admissions; a
		// freed seat becomes visible only once this commits.
		if _, err := s.instances.LockByID(ctx, q, req.CourseInstanceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course instance not found")
			}
			return err
		}

		affected, err := s.repo.MarkDropped(ctx, q, req.StudentID, req.CourseInstanceID, droppedAt)
		if err != nil {
			return err
		}
		if affected == 0 {
			return appErrors.Clone(appErrors.ErrNotFound, "no active enrollment to drop")
		}
		return nil
	})

	if txErr != nil {
		return s.classify("drop", txErr)
	}

	s.record("drop", OutcomeDropped)
	s.enqueueSeatRefresh(req.CourseInstanceID)
	s.logger.Info("enrollment dropped",
		zap.String("student_id", req.StudentID),
		zap.String("course_instance_id", req.CourseInstanceID),
	)
	return nil
}

// GetStudentSchedule returns the student's active enrollments with section
// metadata.
func (s *EnrollmentService) GetStudentSchedule(ctx context.Context, actor AuthContext, studentID string) ([]models.EnrollmentDetail, error) {
	if !actor.CanActFor(studentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's schedule")
	}
	details, err := s.repo.ListActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return details, nil
}

// GetCourseEnrollments returns the paginated active roster of an instance.
func (s *EnrollmentService) GetCourseEnrollments(ctx context.Context, instanceID string, page, pageSize int) ([]models.RosterEntry, *models.Pagination, error) {
	if _, err := s.instances.FindByID(ctx, instanceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course instance not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course instance")
	}

	roster, total, err := s.repo.ListByInstance(ctx, instanceID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
	return roster, pagination, nil
}

// HasCapacity answers the advisory capacity query. It may serve a slightly
// stale figure from cache; the authoritative check always happens inside
// the admission transaction.
func (s *EnrollmentService) HasCapacity(ctx context.Context, instanceID string) (*CapacityStatus, error) {
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course instance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course instance")
	}

	if s.seats != nil {
		if remaining, err := s.seats.GetRemaining(ctx, instanceID); err == nil {
			s.recordSeatLookup(true)
			return &CapacityStatus{
				CourseInstanceID: instanceID,
				Capacity:         instance.Capacity,
				Enrolled:         instance.Capacity - remaining,
				HasCapacity:      remaining > 0,
			}, nil
		}
		s.recordSeatLookup(false)
	}

	occupied, err := s.repo.CountActiveLive(ctx, instanceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if s.seats != nil {
		if err := s.seats.SetRemaining(ctx, instanceID, instance.Capacity-occupied); err != nil {
			s.logger.Warn("failed to prime seat cache", zap.String("course_instance_id", instanceID), zap.Error(err))
		}
	}
	return &CapacityStatus{
		CourseInstanceID: instanceID,
		Capacity:         instance.Capacity,
		Enrolled:         occupied,
		HasCapacity:      occupied < instance.Capacity,
	}, nil
}

// HandleSeatRefreshJob recomputes the advisory remaining-seats figure for
// the instance named in the job payload.
func (s *EnrollmentService) HandleSeatRefreshJob(ctx context.Context, job jobs.Job) error {
	instanceID, ok := job.Payload.(string)
	if !ok || instanceID == "" {
		return nil
	}
	return s.RefreshSeatAvailability(ctx, instanceID)
}

// RefreshSeatAvailability recounts occupancy and updates the cache.
func (s *EnrollmentService) RefreshSeatAvailability(ctx context.Context, instanceID string) error {
	if s.seats == nil {
		return nil
	}
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.seats.Invalidate(ctx, instanceID)
		}
		return err
	}
	occupied, err := s.repo.CountActiveLive(ctx, instanceID)
	if err != nil {
		return err
	}
	return s.seats.SetRemaining(ctx, instanceID, instance.Capacity-occupied)
}

func (s *EnrollmentService) enqueueSeatRefresh(instanceID string) {
	if s.queue == nil {
		return
	}
	// The instance ID doubles as the job ID so back-to-back refreshes of
	// the same section coalesce in the queue.
	if err := s.queue.Enqueue(jobs.Job{ID: instanceID, Type: JobTypeSeatRefresh, Payload: instanceID}); err != nil {
		s.logger.Warn("failed to enqueue seat refresh", zap.String("course_instance_id", instanceID), zap.Error(err))
	}
}

// classify maps a transaction error to the response taxonomy. Admission
// rejections pass through typed; resubmittable aborts become CONFLICT;
// anything else is an internal failure and is never disguised as an
// admission outcome.
func (s *EnrollmentService) classify(operation string, err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		s.record(operation, outcomeFor(appErr))
		return appErr
	}
	if repository.IsSerializationFailure(err) {
		s.record(operation, OutcomeConflict)
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "concurrent enrollment activity, please retry")
	}
	return s.infra(operation, err, "enrollment transaction failed")
}

func (s *EnrollmentService) reject(operation, outcome string, err *appErrors.Error) *appErrors.Error {
	s.record(operation, outcome)
	return err
}

func (s *EnrollmentService) infra(operation string, err error, message string) *appErrors.Error {
	s.record(operation, OutcomeInternalError)
	s.logger.Error("enrollment infrastructure failure", zap.String("operation", operation), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *EnrollmentService) record(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEnrollmentDecision(operation, outcome)
	}
}

func (s *EnrollmentService) recordSeatLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordSeatCacheLookup(hit)
	}
}

func outcomeFor(err *appErrors.Error) string {
	switch err.Code {
	case appErrors.ErrNotFound.Code:
		return OutcomeNotFound
	case appErrors.ErrAlreadyEnrolled.Code:
		return OutcomeAlreadyEnrolled
	case appErrors.ErrPrerequisiteNotMet.Code:
		return OutcomePrerequisiteNotMet
	case appErrors.ErrScheduleConflict.Code:
		return OutcomeScheduleConflict
	case appErrors.ErrCourseFull.Code:
		return OutcomeCourseFull
	case appErrors.ErrConflict.Code:
		return OutcomeConflict
	default:
		return OutcomeInternalError
	}
}
