package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"fablevoice-backend/internal/handlers"
	"fablevoice-backend/internal/middleware"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	storyHandler *handlers.StoryHandler,
	profileHandler *handlers.ProfileHandler,
	generationHandler *handlers.GenerationHandler,
	userHandler *handlers.UserHandler,
	mediaDir string,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Stored artifacts: final videos, extracted tracks, avatar clips.
	fileServer := http.StripPrefix("/media/", http.FileServer(http.Dir(mediaDir)))
	r.Get("/media/*", fileServer.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		// ──── Story Catalog Routes ────
		r.Route("/stories", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", storyHandler.List)
			r.Get("/{id}", storyHandler.Get)
			r.Post("/{id}/reanalyze", storyHandler.Reanalyze)
		})

		// ──── Profile Routes ────
		r.Route("/voice-profiles", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", profileHandler.ListVoice)
			r.Post("/", profileHandler.CreateVoice)
		})

		r.Route("/avatar-profiles", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", profileHandler.ListAvatar)
			r.Post("/", profileHandler.CreateAvatar)
		})

		// ──── Generation Routes ────
		r.Route("/generations", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", generationHandler.Submit)
			r.Get("/", generationHandler.List)
			r.Get("/{id}", generationHandler.Status)
		})

		// ──── User & Settings Routes ────
		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", userHandler.GetMe)
			r.Put("/notifications", userHandler.UpdateNotifications)
		})
	})

	return r
}
