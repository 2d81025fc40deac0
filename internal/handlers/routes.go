package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatcore/internal/middleware"
)

// CoopMiddleware isolates the app's browsing context from cross-origin
// popups/frames, letting it use postMessage-based OAuth flows safely.
func CoopMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin-allow-popups")
		w.Header().Set("Cross-Origin-Embedder-Policy", "unsafe-none")
		next.ServeHTTP(w, r)
	})
}

func setupCORS(allowedOriginsCSV string) func(http.Handler) http.Handler {
	var origins []string
	for _, o := range strings.Split(allowedOriginsCSV, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
	}).Handler
}

// Routes builds the complete HTTP mux.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(setupCORS(a.Cfg.CORSAllowedOrigins))
	r.Use(chimiddleware.Logger, chimiddleware.Recoverer, CoopMiddleware)
	r.Use(middleware.MaintenanceMiddleware(a.DB))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	httpLimit := a.RateLimit("general", a.Cfg.HTTPRateLimitRPM)
	aiLimit := a.RateLimit("ai", a.Cfg.AIRateLimitRPM)

	r.Route("/auth", func(r chi.Router) {
		r.Use(httpLimit)
		r.Post("/signup", a.Signup)
		r.Post("/login", a.Login)
		r.Post("/refresh", a.Refresh)
		r.Group(func(r chi.Router) {
			r.Use(a.Authenticate)
			r.Get("/me", a.Me)
			r.Post("/logout", a.Logout)
		})
	})

	r.Route("/ws", func(r chi.Router) {
		r.Use(a.Authenticate)
		r.Get("/", a.ServeWS)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.Authenticate, httpLimit)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", a.ListConversations)
			r.Post("/", a.CreateConversation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.GetConversation)
				r.Patch("/", a.UpdateConversation)
				r.Delete("/", a.DeleteConversation)
				r.Patch("/pin", a.PinConversation)
				r.Get("/messages", a.ListMessages)
				r.Get("/export", a.ExportConversation)
				r.With(aiLimit).Post("/summarize", a.SummarizeConversation)
				r.With(aiLimit).Get("/smart-replies", a.SmartReplies)
				r.Post("/members", a.AddMember)
				r.Delete("/members/{userId}", a.RemoveMember)
				r.Patch("/members/{userId}/role", a.UpdateMemberRole)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/search", a.SearchUsers)
			r.Get("/blocked", a.ListBlocked)
			r.Patch("/me", a.UpdateMe)
			r.Get("/{id}", a.GetUser)
			r.Post("/{id}/block", a.BlockUser)
			r.Delete("/{id}/block", a.UnblockUser)
		})

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", a.ListCalls)
			r.Get("/{id}", a.GetCall)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.ListNotifications)
			r.Post("/read-all", a.MarkAllNotificationsRead)
			r.Patch("/{id}/read", a.MarkNotificationRead)
		})

		r.Post("/upload", a.Upload)
	})

	return r
}
