package main

import (
	"github.com/gin-gonic/gin"

	"github.com/cursolab/gestao-api/internal/handler"
	"github.com/cursolab/gestao-api/internal/middleware"
	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/internal/service"
)

type routeDeps struct {
	auth        *service.AuthService
	auditH      *handler.AuditHandler
	authH       *handler.AuthHandler
	candidateH  *handler.CandidateHandler
	classH      *handler.ClassHandler
	studentH    *handler.StudentHandler
	courseH     *handler.CourseHandler
	instructorH *handler.InstructorHandler
	enrollmentH *handler.EnrollmentHandler
	attendanceH *handler.AttendanceHandler
}

func registerRoutes(api *gin.RouterGroup, d routeDeps) {
	api.POST("/auth/login", d.authH.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(d.auth))

	protected.POST("/auth/logout", d.authH.Logout)
	protected.POST("/auth/register", middleware.RequireRoles(models.RoleAdmin), d.authH.Register)

	protected.GET("/candidates", d.candidateH.List)
	protected.POST("/candidates", d.candidateH.Create)
	protected.GET("/candidates/:id", d.candidateH.Get)
	protected.PUT("/candidates/:id", d.candidateH.Update)
	protected.DELETE("/candidates/:id", d.candidateH.Delete)
	protected.POST("/candidates/:id/approve", d.candidateH.Approve)
	protected.POST("/candidates/:id/reject", d.candidateH.Reject)

	protected.GET("/students", d.studentH.List)
	protected.POST("/students", d.studentH.Create)
	protected.GET("/students/:id", d.studentH.Get)
	protected.PUT("/students/:id", d.studentH.Update)
	protected.GET("/students/:id/attendance", d.studentH.AttendanceStats)

	protected.GET("/classes", d.classH.List)
	protected.POST("/classes", d.classH.Create)
	protected.GET("/classes/:id", d.classH.Get)
	protected.PUT("/classes/:id", d.classH.Update)
	protected.PATCH("/classes/:id/status", d.classH.Transition)
	protected.GET("/classes/:id/attendance", d.attendanceH.ClassReport)
	protected.POST("/classes/:id/attendance", d.attendanceH.RecordBatch)
	protected.GET("/classes/:id/instructors", d.instructorH.ListByClass)
	protected.PUT("/classes/:id/instructors/:instructorId", d.instructorH.Assign)
	protected.DELETE("/classes/:id/instructors/:instructorId", d.instructorH.Unassign)

	protected.GET("/courses", d.courseH.List)
	protected.POST("/courses", d.courseH.Create)
	protected.GET("/courses/:id", d.courseH.Get)
	protected.PUT("/courses/:id", d.courseH.Update)

	protected.GET("/instructors", d.instructorH.List)
	protected.POST("/instructors", d.instructorH.Create)
	protected.GET("/instructors/:id", d.instructorH.Get)
	protected.PUT("/instructors/:id", d.instructorH.Update)

	protected.GET("/enrollments", d.enrollmentH.List)
	protected.GET("/attendance", d.attendanceH.List)

	protected.GET("/audit", middleware.RequireRoles(models.RoleAdmin), d.auditH.List)
}
