package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/middleware"
	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/service"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func authContextFromClaims(claims *models.JWTClaims) service.AuthContext {
	if claims == nil {
		return service.AuthContext{}
	}
	return service.AuthContext{
		UserID:    claims.UserID,
		Role:      claims.Role,
		StudentID: claims.StudentID,
	}
}
