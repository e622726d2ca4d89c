package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// CourseInstanceRepository handles persistence of course sections.
type CourseInstanceRepository struct {
	db *sqlx.DB
}

// NewCourseInstanceRepository constructs the repository.
func NewCourseInstanceRepository(db *sqlx.DB) *CourseInstanceRepository {
	return &CourseInstanceRepository{db: db}
}

const instanceColumns = `id, course_id, academic_year_id, teacher_id, capacity, day1, day2, start_time, end_time, created_at, updated_at`

// FindByID returns a course instance by its ID.
func (r *CourseInstanceRepository) FindByID(ctx context.Context, id string) (*models.CourseInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_instances WHERE id = $1`, instanceColumns)
	var instance models.CourseInstance
	if err := sqlx.GetContext(ctx, r.db, &instance, query, id); err != nil {
		return nil, err
	}
	return &instance, nil
}

// FindDetailByID returns an instance with catalog context and the current
// active-enrollment count. The count here is informational; admission always
// recounts inside its own transaction.
func (r *CourseInstanceRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseInstanceDetail, error) {
	const query = `SELECT ci.id, ci.course_id, ci.academic_year_id, ci.teacher_id, ci.capacity,
        ci.day1, ci.day2, ci.start_time, ci.end_time, ci.created_at, ci.updated_at,
        c.code AS course_code, c.title AS course_title, c.prerequisite_course_id,
        y.name AS academic_year_name,
        (SELECT COUNT(*) FROM enrollments e WHERE e.course_instance_id = ci.id AND e.status = 'ACTIVE') AS enrolled_count
        FROM course_instances ci
        JOIN courses c ON c.id = ci.course_id
        JOIN academic_years y ON y.id = ci.academic_year_id
        WHERE ci.id = $1`
	var detail models.CourseInstanceDetail
	if err := sqlx.GetContext(ctx, r.db, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// LockByID loads the instance row under FOR UPDATE within the caller's
// transaction scope. Every admission and drop serializes on this lock, which
// is what makes the derived seat count race-free.
func (r *CourseInstanceRepository) LockByID(ctx context.Context, q Querier, id string) (*models.CourseInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_instances WHERE id = $1 FOR UPDATE`, instanceColumns)
	var instance models.CourseInstance
	if err := sqlx.GetContext(ctx, q, &instance, query, id); err != nil {
		return nil, err
	}
	return &instance, nil
}

// Create persists a new course instance.
func (r *CourseInstanceRepository) Create(ctx context.Context, instance *models.CourseInstance) error {
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}
	instance.UpdatedAt = now
	const query = `INSERT INTO course_instances (id, course_id, academic_year_id, teacher_id, capacity, day1, day2, start_time, end_time, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		instance.ID, instance.CourseID, instance.AcademicYearID, instance.TeacherID,
		instance.Capacity, instance.Day1, instance.Day2, instance.StartTime, instance.EndTime,
		instance.CreatedAt, instance.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create course instance: %w", err)
	}
	return nil
}

// List returns instances matching the filter with a total count.
func (r *CourseInstanceRepository) List(ctx context.Context, filter models.CourseInstanceFilter) ([]models.CourseInstanceDetail, int, error) {
	base := `FROM course_instances ci
JOIN courses c ON c.id = ci.course_id
JOIN academic_years y ON y.id = ci.academic_year_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("ci.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.AcademicYearID != "" {
		conditions = append(conditions, fmt.Sprintf("ci.academic_year_id = $%d", len(args)+1))
		args = append(args, filter.AcademicYearID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("ci.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}

	clause := ""
	for i, cond := range conditions {
		if i == 0 {
			clause = " WHERE " + cond
		} else {
			clause += " AND " + cond
		}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ci.id, ci.course_id, ci.academic_year_id, ci.teacher_id, ci.capacity,
        ci.day1, ci.day2, ci.start_time, ci.end_time, ci.created_at, ci.updated_at,
        c.code AS course_code, c.title AS course_title, c.prerequisite_course_id,
        y.name AS academic_year_name,
        (SELECT COUNT(*) FROM enrollments e WHERE e.course_instance_id = ci.id AND e.status = 'ACTIVE') AS enrolled_count
        %s ORDER BY c.code ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var instances []models.CourseInstanceDetail
	if err := sqlx.SelectContext(ctx, r.db, &instances, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list course instances: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count course instances: %w", err)
	}
	return instances, total, nil
}
