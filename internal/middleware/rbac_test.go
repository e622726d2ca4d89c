package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/models"
)

func serveRBAC(t *testing.T, path string, seed func(*gin.Context), allowed ...string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	router := gin.New()
	if seed != nil {
		router.Use(func(c *gin.Context) {
			seed(c)
			c.Next()
		})
	}
	router.Use(RBAC(allowed...))
	router.GET("/students/:studentId", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestRBACAllowsMatchingRole(t *testing.T) {
	seed := func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin})
	}
	recorder := serveRBAC(t, "/students/s-1", seed, "ADMIN")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACRejectsMissingClaims(t *testing.T) {
	recorder := serveRBAC(t, "/students/s-1", nil, "ADMIN")

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACRejectsMalformedClaims(t *testing.T) {
	// A wrong type under the context key must be treated as an
	// unauthenticated request, not crash the handler chain.
	seed := func(c *gin.Context) {
		c.Set(ContextUserKey, "not-a-claims-struct")
	}
	recorder := serveRBAC(t, "/students/s-1", seed, "ADMIN")

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACSelfMatchesOwnStudentID(t *testing.T) {
	seed := func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-2", Role: models.RoleStudent, StudentID: "s-7"})
	}

	recorder := serveRBAC(t, "/students/s-7", seed, "ADMIN", "SELF")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status for own record: %d", recorder.Code)
	}

	recorder = serveRBAC(t, "/students/s-8", seed, "ADMIN", "SELF")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status for another record: %d", recorder.Code)
	}
}
