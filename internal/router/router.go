package router

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/handler"
	"github.com/campusreg/enroll-api/internal/middleware"
	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/service"
	"github.com/campusreg/enroll-api/pkg/config"
	"github.com/campusreg/enroll-api/pkg/logger"
	corsmiddleware "github.com/campusreg/enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusreg/enroll-api/pkg/middleware/requestid"
)

// Dependencies carries everything the router needs to wire routes.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	AuthService     *service.AuthService
	Enrollments     *service.EnrollmentService
	CourseInstances *service.CourseInstanceService
	Exports         *service.ExportService
	Metrics         *service.MetricsService
}

// New builds the HTTP router with all routes and middleware wired.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	authHandler := handler.NewAuthHandler(deps.AuthService)
	enrollmentHandler := handler.NewEnrollmentHandler(deps.Enrollments, deps.Exports)
	instanceHandler := handler.NewCourseInstanceHandler(deps.CourseInstances)
	metricsHandler := handler.NewMetricsHandler(deps.Metrics, deps.DB)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authRequired := middleware.JWT(deps.AuthService)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	rateLimited := middleware.RateLimit(deps.Redis, cfg.RateLimit, deps.Logger)

	v1 := r.Group(cfg.APIPrefix)
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", authRequired, authHandler.Logout)
			auth.GET("/me", authRequired, authHandler.Me)
		}

		enrollments := v1.Group("/enrollments", authRequired, rateLimited)
		{
			enrollments.POST("", enrollmentHandler.Enroll)
			enrollments.DELETE("", enrollmentHandler.Drop)
		}

		admin := v1.Group("/admin", authRequired, adminOnly)
		{
			admin.POST("/enrollments", enrollmentHandler.AdminEnroll)
			admin.DELETE("/enrollments", enrollmentHandler.AdminDrop)
		}

		students := v1.Group("/students", authRequired)
		{
			students.GET("/:studentId/schedule", middleware.RBAC("ADMIN", "TEACHER", "SELF"), enrollmentHandler.Schedule)
		}

		instances := v1.Group("/course-instances", authRequired)
		{
			instances.GET("", instanceHandler.List)
			instances.GET("/:id", instanceHandler.Get)
			instances.GET("/:id/capacity", enrollmentHandler.Capacity)
			instances.POST("", adminOnly, instanceHandler.Create)
			instances.GET("/:id/enrollments", staff, enrollmentHandler.Roster)
			if cfg.Export.Enabled {
				instances.GET("/:id/enrollments/export", staff, enrollmentHandler.ExportRoster)
			}
		}

		if cfg.Export.Enabled {
			// Access is granted by the signed token, not a session.
			v1.GET("/downloads/rosters", enrollmentHandler.DownloadRoster)
		}
	}

	return r
}
