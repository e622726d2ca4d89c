package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments. Occupancy is
// never stored as a counter column: it is always derived from a live count
// of ACTIVE rows, so the count read inside an admission transaction is the
// authoritative one.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_instance_id, status, enrolled_at, dropped_at`

// CountActive returns the number of ACTIVE enrollments for an instance,
// evaluated within the caller's scope. Called under the instance row lock
// this is the seat ledger's authoritative occupancy.
func (r *EnrollmentRepository) CountActive(ctx context.Context, q Querier, instanceID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_instance_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, instanceID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// CountActiveLive is CountActive evaluated against the pool directly,
// for advisory reads that do not participate in an admission transaction.
func (r *EnrollmentRepository) CountActiveLive(ctx context.Context, instanceID string) (int, error) {
	return r.CountActive(ctx, r.db, instanceID)
}

// ExistsActive checks for an active enrollment of a student in an instance.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, q Querier, studentID, instanceID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_instance_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, q, &exists, query, studentID, instanceID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Create inserts a new ACTIVE enrollment row within the caller's scope. A
// unique violation from the partial index on (student_id,
// course_instance_id) WHERE status = 'ACTIVE' bubbles up untranslated so the
// coordinator can classify the race.
func (r *EnrollmentRepository) Create(ctx context.Context, q Querier, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.ExecContext(ctx, query,
		enrollment.ID, enrollment.StudentID, enrollment.CourseInstanceID,
		enrollment.Status, enrollment.EnrolledAt, enrollment.DroppedAt,
	); err != nil {
		return err
	}
	return nil
}

// MarkDropped flips the student's ACTIVE enrollment for an instance to
// DROPPED, returning how many rows changed. Zero means there was nothing
// active to drop.
func (r *EnrollmentRepository) MarkDropped(ctx context.Context, q Querier, studentID, instanceID string, droppedAt time.Time) (int64, error) {
	const query = `UPDATE enrollments SET status = $4, dropped_at = $5
        WHERE student_id = $1 AND course_instance_id = $2 AND status = $3`
	res, err := q.ExecContext(ctx, query, studentID, instanceID,
		models.EnrollmentStatusActive, models.EnrollmentStatusDropped, droppedAt)
	if err != nil {
		return 0, fmt.Errorf("mark enrollment dropped: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark enrollment dropped: %w", err)
	}
	return affected, nil
}

// ListActiveByStudent returns the student's active enrollments with the
// section meeting attributes needed for schedule conflict checks.
func (r *EnrollmentRepository) ListActiveByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	return r.ListActiveByStudentScoped(ctx, r.db, studentID)
}

// ListActiveByStudentScoped is ListActiveByStudent evaluated in an explicit
// scope, used by the coordinator to read the schedule inside the admission
// transaction.
func (r *EnrollmentRepository) ListActiveByStudentScoped(ctx context.Context, q Querier, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_instance_id, e.status, e.enrolled_at, e.dropped_at,
        ci.course_id, c.code AS course_code, c.title AS course_title,
        ci.day1, ci.day2, ci.start_time, ci.end_time
        FROM enrollments e
        JOIN course_instances ci ON ci.id = e.course_instance_id
        JOIN courses c ON c.id = ci.course_id
        WHERE e.student_id = $1 AND e.status = $2
        ORDER BY e.enrolled_at ASC`
	var details []models.EnrollmentDetail
	if err := sqlx.SelectContext(ctx, q, &details, query, studentID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return details, nil
}

// ListByInstance returns the paginated roster of a course instance.
func (r *EnrollmentRepository) ListByInstance(ctx context.Context, instanceID string, page, pageSize int) ([]models.RosterEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_instance_id, e.status, e.enrolled_at, e.dropped_at,
        s.nim AS student_nim, s.full_name AS student_name
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE e.course_instance_id = $1 AND e.status = $2
        ORDER BY s.full_name ASC LIMIT %d OFFSET %d`, pageSize, offset)

	var roster []models.RosterEntry
	if err := sqlx.SelectContext(ctx, r.db, &roster, query, instanceID, models.EnrollmentStatusActive); err != nil {
		return nil, 0, fmt.Errorf("list roster: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM enrollments WHERE course_instance_id = $1 AND status = $2`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, instanceID, models.EnrollmentStatusActive); err != nil {
		return nil, 0, fmt.Errorf("count roster: %w", err)
	}
	return roster, total, nil
}
