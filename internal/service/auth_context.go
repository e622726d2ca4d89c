package service

import "github.com/campusreg/enroll-api/internal/models"

// AuthContext carries the authenticated caller's identity into service
// operations. Handlers build it from validated JWT claims.
type AuthContext struct {
	UserID    string
	Role      models.UserRole
	StudentID string
}

// AdminOverride reports whether the caller may act on any student.
func (a AuthContext) AdminOverride() bool {
	return a.Role == models.RoleAdmin
}

// CanActFor reports whether the caller may enroll, drop, or view schedules
// for the given student: either it is their own student record or they hold
// the admin override.
func (a AuthContext) CanActFor(studentID string) bool {
	if a.AdminOverride() {
		return true
	}
	return a.StudentID != "" && a.StudentID == studentID
}
