package service

import "github.com/campusreg/enroll-api/internal/models"

// FindScheduleConflict checks a candidate section's meetings against a
// student's current schedule. It returns the first existing meeting that
// collides, short-circuiting on the first hit. Interval semantics are
// half-open, so back-to-back sections do not conflict.
func FindScheduleConflict(existing []models.Meeting, candidate []models.Meeting) (models.Meeting, bool) {
	for _, c := range candidate {
		for _, e := range existing {
			if c.Overlaps(e) {
				return e, true
			}
		}
	}
	return models.Meeting{}, false
}
