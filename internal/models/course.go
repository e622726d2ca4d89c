package models

import "time"

// Course is a catalog entry. A course may declare at most one prerequisite
// course; the chain forms a DAG but only one level is ever consulted here.
type Course struct {
	ID                   string    `db:"id" json:"id"`
	DepartmentID         string    `db:"department_id" json:"department_id"`
	Code                 string    `db:"code" json:"code"`
	Title                string    `db:"title" json:"title"`
	Credits              int       `db:"credits" json:"credits"`
	PrerequisiteCourseID *string   `db:"prerequisite_course_id" json:"prerequisite_course_id,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}
