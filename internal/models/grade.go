package models

import "time"

// LetterGrade is the final mark recorded by the grading subsystem. This
// engine only reads grades to answer prerequisite checks.
type LetterGrade string

const (
	GradeA      LetterGrade = "A"
	GradeAMinus LetterGrade = "A-"
	GradeBPlus  LetterGrade = "B+"
	GradeB      LetterGrade = "B"
	GradeBMinus LetterGrade = "B-"
	GradeCPlus  LetterGrade = "C+"
	GradeC      LetterGrade = "C"
	GradeDPlus  LetterGrade = "D+"
	GradeD      LetterGrade = "D"
	GradeE      LetterGrade = "E"
	GradeF      LetterGrade = "F"
	// GradeW marks a withdrawal and never satisfies a prerequisite.
	GradeW LetterGrade = "W"
)

// IsPassing reports whether the grade satisfies a prerequisite. Everything
// passes except the two failing grades and the withdrawal marker.
func (g LetterGrade) IsPassing() bool {
	switch g {
	case GradeE, GradeF, GradeW:
		return false
	default:
		return true
	}
}

// Grade is a student's final mark for a course.
type Grade struct {
	ID        string      `db:"id" json:"id"`
	StudentID string      `db:"student_id" json:"student_id"`
	CourseID  string      `db:"course_id" json:"course_id"`
	Letter    LetterGrade `db:"letter" json:"letter"`
	GradedAt  time.Time   `db:"graded_at" json:"graded_at"`
}
