package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// StudentRepository reads student records. Students are read-only from the
// enrollment engine's perspective.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, user_id, department_id, nim, full_name, active, created_at, updated_at
        FROM students WHERE id = $1`
	var student models.Student
	if err := sqlx.GetContext(ctx, r.db, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByUserID resolves the student profile owned by a user account, used
// when minting claims for STUDENT logins.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	const query = `SELECT id, user_id, department_id, nim, full_name, active, created_at, updated_at
        FROM students WHERE user_id = $1`
	var student models.Student
	if err := sqlx.GetContext(ctx, r.db, &student, query, userID); err != nil {
		return nil, err
	}
	return &student, nil
}
