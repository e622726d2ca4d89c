package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/repository"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

// stubTxRunner serializes transactions with a mutex, mirroring the row lock
// the real coordinator takes on the course instance.
type stubTxRunner struct {
	mu sync.Mutex
}

func (r *stubTxRunner) WithinTx(ctx context.Context, fn func(q repository.Querier) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(nil)
}

type stubEnrollmentRepo struct {
	mu        sync.Mutex
	active    map[string]models.EnrollmentDetail
	createErr error
	countErr  error
}

func newStubEnrollmentRepo() *stubEnrollmentRepo {
	return &stubEnrollmentRepo{active: make(map[string]models.EnrollmentDetail)}
}

func enrollKey(studentID, instanceID string) string {
	return studentID + "|" + instanceID
}

func (m *stubEnrollmentRepo) CountActive(ctx context.Context, q repository.Querier, instanceID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, d := range m.active {
		if d.CourseInstanceID == instanceID {
			count++
		}
	}
	return count, nil
}

func (m *stubEnrollmentRepo) CountActiveLive(ctx context.Context, instanceID string) (int, error) {
	return m.CountActive(ctx, nil, instanceID)
}

func (m *stubEnrollmentRepo) ExistsActive(ctx context.Context, q repository.Querier, studentID, instanceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[enrollKey(studentID, instanceID)]
	return ok, nil
}

func (m *stubEnrollmentRepo) Create(ctx context.Context, q repository.Querier, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = fmt.Sprintf("enr-%d", len(m.active)+1)
	}
	m.active[enrollKey(enrollment.StudentID, enrollment.CourseInstanceID)] = models.EnrollmentDetail{Enrollment: *enrollment}
	return nil
}

func (m *stubEnrollmentRepo) MarkDropped(ctx context.Context, q repository.Querier, studentID, instanceID string, droppedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := enrollKey(studentID, instanceID)
	if _, ok := m.active[key]; !ok {
		return 0, nil
	}
	delete(m.active, key)
	return 1, nil
}

func (m *stubEnrollmentRepo) ListActiveByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	return m.ListActiveByStudentScoped(ctx, nil, studentID)
}

func (m *stubEnrollmentRepo) ListActiveByStudentScoped(ctx context.Context, q repository.Querier, studentID string) ([]models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var details []models.EnrollmentDetail
	for _, d := range m.active {
		if d.StudentID == studentID {
			details = append(details, d)
		}
	}
	return details, nil
}

func (m *stubEnrollmentRepo) ListByInstance(ctx context.Context, instanceID string, page, pageSize int) ([]models.RosterEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roster []models.RosterEntry
	for _, d := range m.active {
		if d.CourseInstanceID == instanceID {
			roster = append(roster, models.RosterEntry{Enrollment: d.Enrollment})
		}
	}
	return roster, len(roster), nil
}

// enroll registers an existing active enrollment with meeting attributes, so
// schedule conflict scenarios can be staged.
func (m *stubEnrollmentRepo) enroll(studentID string, instance *models.CourseInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[enrollKey(studentID, instance.ID)] = models.EnrollmentDetail{
		Enrollment: models.Enrollment{
			ID:               fmt.Sprintf("enr-%d", len(m.active)+1),
			StudentID:        studentID,
			CourseInstanceID: instance.ID,
			Status:           models.EnrollmentStatusActive,
		},
		Day1:      instance.Day1,
		Day2:      instance.Day2,
		StartTime: instance.StartTime,
		EndTime:   instance.EndTime,
	}
}

type stubInstanceRepo struct {
	instances map[string]*models.CourseInstance
	prereqs   map[string]string
}

func newStubInstanceRepo(instances ...*models.CourseInstance) *stubInstanceRepo {
	m := &stubInstanceRepo{instances: make(map[string]*models.CourseInstance), prereqs: make(map[string]string)}
	for _, ci := range instances {
		m.instances[ci.ID] = ci
	}
	return m
}

func (m *stubInstanceRepo) FindByID(ctx context.Context, id string) (*models.CourseInstance, error) {
	if ci, ok := m.instances[id]; ok {
		copied := *ci
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubInstanceRepo) FindDetailByID(ctx context.Context, id string) (*models.CourseInstanceDetail, error) {
	ci, ok := m.instances[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := &models.CourseInstanceDetail{CourseInstance: *ci}
	if prereq, ok := m.prereqs[id]; ok {
		detail.PrerequisiteCourseID = &prereq
	}
	return detail, nil
}

func (m *stubInstanceRepo) LockByID(ctx context.Context, q repository.Querier, id string) (*models.CourseInstance, error) {
	return m.FindByID(ctx, id)
}

type stubStudentRepo struct {
	students map[string]*models.Student
}

func (m *stubStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type stubGradeRepo struct {
	passed map[string]bool // studentID|courseID
}

func (m *stubGradeRepo) HasPassingGrade(ctx context.Context, q repository.Querier, studentID, courseID string) (bool, error) {
	return m.passed[studentID+"|"+courseID], nil
}

type stubMetrics struct {
	mu        sync.Mutex
	outcomes  map[string]int
	cacheHits int
	cacheMiss int
}

func (m *stubMetrics) RecordEnrollmentDecision(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[operation+"/"+outcome]++
}

func (m *stubMetrics) RecordSeatCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMiss++
	}
}

func activeStudents(ids ...string) *stubStudentRepo {
	m := &stubStudentRepo{students: make(map[string]*models.Student)}
	for _, id := range ids {
		m.students[id] = &models.Student{ID: id, Active: true}
	}
	return m
}

func testInstance(id string, capacity int) *models.CourseInstance {
	return &models.CourseInstance{
		ID:        id,
		CourseID:  "course-" + id,
		Capacity:  capacity,
		Day1:      1,
		StartTime: "10:00",
		EndTime:   "11:00",
	}
}

func newTestService(repo *stubEnrollmentRepo, instances *stubInstanceRepo, students *stubStudentRepo, grades *stubGradeRepo) *EnrollmentService {
	if grades == nil {
		grades = &stubGradeRepo{passed: map[string]bool{}}
	}
	return NewEnrollmentService(&stubTxRunner{}, repo, instances, students, grades, nil, validator.New(), zap.NewNop())
}

func asAppError(t *testing.T, err error) *appErrors.Error {
	t.Helper()
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected typed error, got %v", err)
	return appErr
}

func selfActor(studentID string) AuthContext {
	return AuthContext{UserID: "u-" + studentID, Role: models.RoleStudent, StudentID: studentID}
}

var adminActor = AuthContext{UserID: "u-admin", Role: models.RoleAdmin}

func TestEnrollSuccess(t *testing.T) {
	repo := newStubEnrollmentRepo()
	svc := newTestService(repo, newStubInstanceRepo(testInstance("ci1", 30)), activeStudents("s1"), nil)

	enrollment, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)

	exists, _ := repo.ExistsActive(context.Background(), nil, "s1", "ci1")
	assert.True(t, exists)
}

func TestEnrollLastSeatRace(t *testing.T) {
	const attempts = 8
	repo := newStubEnrollmentRepo()
	ids := make([]string, attempts)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}
	svc := newTestService(repo, newStubInstanceRepo(testInstance("ci1", 1)), activeStudents(ids...), nil)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for _, id := range ids {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			_, err := svc.Enroll(context.Background(), selfActor(studentID), EnrollRequest{StudentID: studentID, CourseInstanceID: "ci1"})
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	admitted, full := 0, 0
	for err := range results {
		if err == nil {
			admitted++
			continue
		}
		assert.Equal(t, appErrors.ErrCourseFull.Code, asAppError(t, err).Code)
		full++
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, attempts-1, full)

	count, _ := repo.CountActive(context.Background(), nil, "ci1")
	assert.Equal(t, 1, count)
}

func TestEnrollAlreadyEnrolled(t *testing.T) {
	repo := newStubEnrollmentRepo()
	instance := testInstance("ci1", 30)
	repo.enroll("s1", instance)
	svc := newTestService(repo, newStubInstanceRepo(instance), activeStudents("s1"), nil)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, asAppError(t, err).Code)
}

func TestEnrollUniqueViolationMapsToAlreadyEnrolled(t *testing.T) {
	repo := newStubEnrollmentRepo()
	repo.createErr = &pq.Error{Code: "23505"}
	svc := newTestService(repo, newStubInstanceRepo(testInstance("ci1", 30)), activeStudents("s1"), nil)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, asAppError(t, err).Code)
}

func TestEnrollPrerequisiteGate(t *testing.T) {
	instance := testInstance("ci1", 30)
	instances := newStubInstanceRepo(instance)
	instances.prereqs["ci1"] = "course-intro"
	grades := &stubGradeRepo{passed: map[string]bool{"s2|course-intro": true}}
	svc := newTestService(newStubEnrollmentRepo(), instances, activeStudents("s1", "s2"), grades)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	appErr := asAppError(t, err)
	assert.Equal(t, appErrors.ErrPrerequisiteNotMet.Code, appErr.Code)
	assert.Equal(t, 422, appErr.Status)

	_, err = svc.Enroll(context.Background(), selfActor("s2"), EnrollRequest{StudentID: "s2", CourseInstanceID: "ci1"})
	assert.NoError(t, err)
}

func TestEnrollScheduleConflict(t *testing.T) {
	morning := testInstance("ci1", 30) // Mon 10:00-11:00
	overlapping := testInstance("ci2", 30)
	overlapping.StartTime, overlapping.EndTime = "10:30", "11:30"
	adjacent := testInstance("ci3", 30)
	adjacent.StartTime, adjacent.EndTime = "11:00", "12:00"

	repo := newStubEnrollmentRepo()
	repo.enroll("s1", morning)
	svc := newTestService(repo, newStubInstanceRepo(morning, overlapping, adjacent), activeStudents("s1"), nil)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci2"})
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, asAppError(t, err).Code)

	// A section starting exactly when the other ends is admitted.
	_, err = svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci3"})
	assert.NoError(t, err)
}

func TestEnrollInstanceNotFound(t *testing.T) {
	svc := newTestService(newStubEnrollmentRepo(), newStubInstanceRepo(), activeStudents("s1"), nil)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "missing"})
	assert.Equal(t, appErrors.ErrNotFound.Code, asAppError(t, err).Code)
}

func TestEnrollInactiveStudent(t *testing.T) {
	students := &stubStudentRepo{students: map[string]*models.Student{"s1": {ID: "s1", Active: false}}}
	svc := newTestService(newStubEnrollmentRepo(), newStubInstanceRepo(testInstance("ci1", 30)), students, nil)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrConflict.Code, asAppError(t, err).Code)
}

func TestEnrollInfraFailureIsNotCourseFull(t *testing.T) {
	repo := newStubEnrollmentRepo()
	repo.countErr = errors.New("connection reset")
	svc := newTestService(repo, newStubInstanceRepo(testInstance("ci1", 1)), activeStudents("s1"), nil)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	appErr := asAppError(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
	assert.NotEqual(t, appErrors.ErrCourseFull.Code, appErr.Code)
}

func TestEnrollForbiddenForOtherStudent(t *testing.T) {
	svc := newTestService(newStubEnrollmentRepo(), newStubInstanceRepo(testInstance("ci1", 30)), activeStudents("s1", "s2"), nil)

	_, err := svc.Enroll(context.Background(), selfActor("s2"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrForbidden.Code, asAppError(t, err).Code)
}

func TestAdminEnrollRequiresAdmin(t *testing.T) {
	svc := newTestService(newStubEnrollmentRepo(), newStubInstanceRepo(testInstance("ci1", 30)), activeStudents("s1"), nil)

	_, err := svc.AdminEnroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrForbidden.Code, asAppError(t, err).Code)

	enrollment, err := svc.AdminEnroll(context.Background(), adminActor, EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
}

func TestDropFreesSeat(t *testing.T) {
	repo := newStubEnrollmentRepo()
	instance := testInstance("ci1", 1)
	repo.enroll("s1", instance)
	svc := newTestService(repo, newStubInstanceRepo(instance), activeStudents("s1", "s2"), nil)

	// Section is full for s2 until s1 drops.
	_, err := svc.Enroll(context.Background(), selfActor("s2"), EnrollRequest{StudentID: "s2", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrCourseFull.Code, asAppError(t, err).Code)

	require.NoError(t, svc.Drop(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"}))

	_, err = svc.Enroll(context.Background(), selfActor("s2"), EnrollRequest{StudentID: "s2", CourseInstanceID: "ci1"})
	assert.NoError(t, err)
}

func TestDropWithoutActiveEnrollment(t *testing.T) {
	svc := newTestService(newStubEnrollmentRepo(), newStubInstanceRepo(testInstance("ci1", 30)), activeStudents("s1"), nil)

	err := svc.Drop(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.Equal(t, appErrors.ErrNotFound.Code, asAppError(t, err).Code)
}

func TestReenrollAfterDrop(t *testing.T) {
	repo := newStubEnrollmentRepo()
	instance := testInstance("ci1", 30)
	repo.enroll("s1", instance)
	svc := newTestService(repo, newStubInstanceRepo(instance), activeStudents("s1"), nil)

	require.NoError(t, svc.Drop(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"}))

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	assert.NoError(t, err)
}

func TestGetStudentScheduleOwnership(t *testing.T) {
	repo := newStubEnrollmentRepo()
	repo.enroll("s1", testInstance("ci1", 30))
	svc := newTestService(repo, newStubInstanceRepo(), activeStudents("s1"), nil)

	details, err := svc.GetStudentSchedule(context.Background(), selfActor("s1"), "s1")
	require.NoError(t, err)
	assert.Len(t, details, 1)

	_, err = svc.GetStudentSchedule(context.Background(), selfActor("s2"), "s1")
	assert.Equal(t, appErrors.ErrForbidden.Code, asAppError(t, err).Code)

	details, err = svc.GetStudentSchedule(context.Background(), adminActor, "s1")
	require.NoError(t, err)
	assert.Len(t, details, 1)
}

func TestHasCapacityLiveFallback(t *testing.T) {
	repo := newStubEnrollmentRepo()
	instance := testInstance("ci1", 2)
	repo.enroll("s1", instance)
	svc := newTestService(repo, newStubInstanceRepo(instance), activeStudents("s1"), nil)

	status, err := svc.HasCapacity(context.Background(), "ci1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Capacity)
	assert.Equal(t, 1, status.Enrolled)
	assert.True(t, status.HasCapacity)
}

type stubSeatCache struct {
	mu        sync.Mutex
	remaining map[string]int
}

func newStubSeatCache() *stubSeatCache {
	return &stubSeatCache{remaining: make(map[string]int)}
}

func (m *stubSeatCache) GetRemaining(ctx context.Context, instanceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remaining, ok := m.remaining[instanceID]; ok {
		return remaining, nil
	}
	return 0, appErrors.ErrCacheMiss
}

func (m *stubSeatCache) SetRemaining(ctx context.Context, instanceID string, remaining int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining[instanceID] = remaining
	return nil
}

func (m *stubSeatCache) Invalidate(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.remaining, instanceID)
	return nil
}

func TestHasCapacityRecordsCacheLookups(t *testing.T) {
	repo := newStubEnrollmentRepo()
	instance := testInstance("ci1", 3)
	repo.enroll("s1", instance)
	seats := newStubSeatCache()
	grades := &stubGradeRepo{passed: map[string]bool{}}
	svc := NewEnrollmentService(&stubTxRunner{}, repo, newStubInstanceRepo(instance), activeStudents("s1"), grades, seats, validator.New(), zap.NewNop())
	metrics := &stubMetrics{}
	svc.SetMetrics(metrics)

	// Cold cache: miss, live count, cache primed.
	status, err := svc.HasCapacity(context.Background(), "ci1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Enrolled)
	assert.Equal(t, 0, metrics.cacheHits)
	assert.Equal(t, 1, metrics.cacheMiss)

	status, err = svc.HasCapacity(context.Background(), "ci1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Enrolled)
	assert.Equal(t, 1, metrics.cacheHits)
	assert.Equal(t, 1, metrics.cacheMiss)
}

func TestEnrollRecordsDecisionMetrics(t *testing.T) {
	repo := newStubEnrollmentRepo()
	svc := newTestService(repo, newStubInstanceRepo(testInstance("ci1", 1)), activeStudents("s1", "s2"), nil)
	metrics := &stubMetrics{}
	svc.SetMetrics(metrics)

	_, err := svc.Enroll(context.Background(), selfActor("s1"), EnrollRequest{StudentID: "s1", CourseInstanceID: "ci1"})
	require.NoError(t, err)
	_, err = svc.Enroll(context.Background(), selfActor("s2"), EnrollRequest{StudentID: "s2", CourseInstanceID: "ci1"})
	require.Error(t, err)

	assert.Equal(t, 1, metrics.outcomes["enroll/"+OutcomeEnrolled])
	assert.Equal(t, 1, metrics.outcomes["enroll/"+OutcomeCourseFull])
}
