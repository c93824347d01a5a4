package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/examguard/examguard/internal/auth"
	"github.com/examguard/examguard/internal/exam"
	"github.com/examguard/examguard/internal/rbac"
)

// NewRouter assembles the full HTTP surface: JWT auth, role checks, and
// the attempt lifecycle routes.
func NewRouter(svc *exam.Service, authSvc *auth.Service, corsOrigins []string) http.Handler {
	checker := rbac.NewChecker(nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", LoginHandler(authSvc))

	// Protected API (JWT -> subject+role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(authSvc))

		pr.With(rbac.Require("exam:create")).
			Post("/exams", CreateExamHandler(svc))
		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", GetExamHandler(svc, checker))

		// Student flow
		pr.With(rbac.Require("attempt:create")).
			Post("/attempts", StartAttemptHandler(svc))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(svc))
		pr.With(rbac.Require("attempt:report")).
			Post("/attempts/{attemptID}/activity", ReportActivityHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", GetAttemptHandler(svc, checker))

		// Educator surface
		pr.With(rbac.Require("attempt:view-all")).
			Get("/exams/{examID}/attempts", ListAttemptsHandler(svc))
		pr.With(rbac.Require("plagiarism:scan")).
			Post("/exams/{examID}/plagiarism", ScanPlagiarismHandler(svc))
		pr.With(rbac.Require("attempt:override")).
			Post("/attempts/{attemptID}/override", OverrideReviewHandler(svc))
		pr.With(rbac.Require("attempt:view-all")).
			Get("/attempts/{attemptID}/audit", AuditSuspicionHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	return r
}
