package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// GradeRepository reads grade records produced by the grading subsystem.
// This engine never writes grades.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// HasPassingGrade reports whether the student holds any passing grade for
// the given course. The failing pair and the withdrawal marker are excluded
// in the query itself.
func (r *GradeRepository) HasPassingGrade(ctx context.Context, q Querier, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM grades
        WHERE student_id = $1 AND course_id = $2 AND letter NOT IN ($3, $4, $5)
        LIMIT 1`
	var exists int
	err := sqlx.GetContext(ctx, q, &exists, query, studentID, courseID,
		models.GradeE, models.GradeF, models.GradeW)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check passing grade: %w", err)
	}
	return true, nil
}
