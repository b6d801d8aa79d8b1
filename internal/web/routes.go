package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/web/handlers"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	studentsHandler := handlers.NewStudentsHandler(s.service)
	verifyHandler := handlers.NewVerifyHandler(s.service)
	attendanceHandler := handlers.NewAttendanceHandler(s.service)
	configHandler := handlers.NewConfigHandler(s.config)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Kiosks only verify
		r.With(middleware.RequireRole(s.auth, constants.RoleAdmin, constants.RoleKiosk)).
			Post("/verify", verifyHandler.Verify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(s.auth, constants.RoleAdmin))

			// Students
			r.Get("/students", studentsHandler.List)
			r.Post("/students", studentsHandler.Create)
			r.Get("/students/{id}", studentsHandler.Get)
			r.Delete("/students/{id}", studentsHandler.Delete)
			r.Post("/students/{id}/references", studentsHandler.AddReference)
			r.Put("/students/{id}/references", studentsHandler.ReEnroll)

			// Reports
			r.Get("/attendance", attendanceHandler.List)
			r.Get("/attendance/summary", attendanceHandler.Summary)

			// Config
			r.Get("/config", configHandler.Get)
		})
	})
}
