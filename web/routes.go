package web

import (
	"caddie/web/api"
	"caddie/web/pages"

	"github.com/rohanthewiz/rweb"
)

// setupRoutes configures all application routes.
func setupRoutes(s *rweb.Server) {
	// Status indicator page - HTML response
	s.Get("/", func(ctx rweb.Context) error {
		ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
		return ctx.WriteHTML(pages.RenderStatusPage())
	})

	// Rounds CRUD plus hole scoring
	s.Post("/api/v1/rounds", api.CreateRound)
	s.Get("/api/v1/rounds", api.ListRounds)
	s.Get("/api/v1/rounds/active", api.ActiveRounds)
	s.Get("/api/v1/rounds/past", api.PastRounds)
	s.Get("/api/v1/rounds/:id", api.GetRound)
	s.Put("/api/v1/rounds/:id", api.UpdateRound)
	s.Delete("/api/v1/rounds/:id", api.DeleteRound)
	s.Put("/api/v1/rounds/:id/holes", api.UpsertHole)
	s.Get("/api/v1/rounds/:id/holes", api.GetRoundHoles)

	// Clubs CRUD
	s.Post("/api/v1/clubs", api.CreateClub)
	s.Get("/api/v1/clubs", api.ListClubs)
	s.Get("/api/v1/clubs/:id", api.GetClub)
	s.Put("/api/v1/clubs/:id", api.UpdateClub)
	s.Delete("/api/v1/clubs/:id", api.DeleteClub)

	// Courses: create with hole definitions, patch definitions, publish
	s.Post("/api/v1/courses", api.CreateCourse)
	s.Get("/api/v1/courses", api.ListCourses)
	s.Get("/api/v1/courses/:id", api.GetCourse)
	s.Put("/api/v1/courses/:id/holes", api.UpdateCourseHole)
	s.Post("/api/v1/courses/:id/publish", api.PublishCourse)
	s.Post("/api/v1/courses/:id/refetch", api.RefetchCourse)

	// Account: registration and cached identity
	s.Post("/api/v1/auth/register", api.Register)
	s.Get("/api/v1/auth/me", api.WhoAmI)

	// Sync control and status
	s.Get("/api/v1/sync/status", api.SyncStatus)
	s.Post("/api/v1/sync/now", api.SyncNow)
	s.Post("/api/v1/sync/down", api.SyncDown)
	s.Post("/api/v1/sync/retry", api.SyncRetryFailed)
	s.Post("/api/v1/sync/toggle", api.SyncToggle)
	s.Post("/api/v1/sync/entity", api.SyncEntity)
	s.Get("/api/v1/sync/failed", api.SyncFailedTasks)
	s.Get("/api/v1/sync/conflicts", api.SyncConflicts)
}
