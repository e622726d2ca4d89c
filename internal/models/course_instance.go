package models

import (
	"fmt"
	"time"
)

// CourseInstance is one offering of a course in an academic year: its own
// teacher, meeting schedule and seat capacity. A section meets on one or two
// weekdays (0 = Sunday .. 6 = Saturday) with a single daily time window.
type CourseInstance struct {
	ID             string    `db:"id" json:"id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	AcademicYearID string    `db:"academic_year_id" json:"academic_year_id"`
	TeacherID      string    `db:"teacher_id" json:"teacher_id"`
	Capacity       int       `db:"capacity" json:"capacity"`
	Day1           int       `db:"day1" json:"day1"`
	Day2           *int      `db:"day2" json:"day2,omitempty"`
	StartTime      string    `db:"start_time" json:"start_time"`
	EndTime        string    `db:"end_time" json:"end_time"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// CourseInstanceDetail enriches the instance with catalog context.
type CourseInstanceDetail struct {
	CourseInstance
	CourseCode           string  `db:"course_code" json:"course_code"`
	CourseTitle          string  `db:"course_title" json:"course_title"`
	PrerequisiteCourseID *string `db:"prerequisite_course_id" json:"prerequisite_course_id,omitempty"`
	AcademicYearName     string  `db:"academic_year_name" json:"academic_year_name"`
	EnrolledCount        int     `db:"enrolled_count" json:"enrolled_count"`
}

// CourseInstanceFilter describes query params for listing instances.
type CourseInstanceFilter struct {
	CourseID       string
	AcademicYearID string
	TeacherID      string
	Page           int
	PageSize       int
}

// Meeting is a single weekly meeting expressed in minutes since midnight.
// The interval is half-open: [Start, End).
type Meeting struct {
	Day   int
	Start int
	End   int
}

// Overlaps reports whether two meetings collide. Meetings on different days
// never collide; on the same day the half-open intervals must intersect, so
// a section ending exactly when another starts is not a conflict.
func (m Meeting) Overlaps(other Meeting) bool {
	if m.Day != other.Day {
		return false
	}
	return m.Start < other.End && other.Start < m.End
}

// Meetings expands the instance schedule into its weekly meetings. A day2
// equal to day1 collapses to a single meeting; instances are validated
// against that configuration on write, but stored rows are still handled
// defensively here.
func (ci CourseInstance) Meetings() ([]Meeting, error) {
	start, err := MinuteOfDay(ci.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	end, err := MinuteOfDay(ci.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	meetings := []Meeting{{Day: ci.Day1, Start: start, End: end}}
	if ci.Day2 != nil && *ci.Day2 != ci.Day1 {
		meetings = append(meetings, Meeting{Day: *ci.Day2, Start: start, End: end})
	}
	return meetings, nil
}

// MinuteOfDay parses a "15:04" clock value into minutes since midnight.
func MinuteOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
