package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Drops are soft: the row survives with a
// DROPPED status so grading and attendance history stays intact.
const (
	EnrollmentStatusActive  EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped EnrollmentStatus = "DROPPED"
)

// Enrollment links a student to one course instance. At most one ACTIVE row
// may exist per (student, course instance) pair; the database enforces this
// with a partial unique index.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	CourseInstanceID string           `db:"course_instance_id" json:"course_instance_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt       time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt        *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with section and catalog context.
// The meeting attributes come along so a student's schedule can be checked
// for conflicts without a second round trip.
type EnrollmentDetail struct {
	Enrollment
	CourseID    string `db:"course_id" json:"course_id"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
	Day1        int    `db:"day1" json:"day1"`
	Day2        *int   `db:"day2" json:"day2,omitempty"`
	StartTime   string `db:"start_time" json:"start_time"`
	EndTime     string `db:"end_time" json:"end_time"`
}

// RosterEntry is one row of a section roster.
type RosterEntry struct {
	Enrollment
	StudentNIM  string `db:"student_nim" json:"student_nim"`
	StudentName string `db:"student_name" json:"student_name"`
}

// Schedule converts the detail rows of a student's active enrollments into
// weekly meetings for conflict checking.
func ScheduleMeetings(details []EnrollmentDetail) ([]Meeting, error) {
	meetings := make([]Meeting, 0, len(details)*2)
	for _, d := range details {
		instance := CourseInstance{Day1: d.Day1, Day2: d.Day2, StartTime: d.StartTime, EndTime: d.EndTime}
		ms, err := instance.Meetings()
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, ms...)
	}
	return meetings, nil
}
