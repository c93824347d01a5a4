// Package http is the engine's HTTP surface: thin JSON handlers over the
// attempt service, wired by NewRouter.
package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/examguard/examguard/internal/auth"
	"github.com/examguard/examguard/internal/exam"
	"github.com/examguard/examguard/internal/rbac"
)

func LoginHandler(a *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		token, role, err := a.Login(req.Username, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "role": role})
	}
}

func CreateExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e exam.Exam
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if e.ID == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		out, err := svc.PublishExam(r.Context(), e)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func GetExamHandler(svc *exam.Service, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "examID")
		role := rbac.RoleFromContext(r.Context())
		// students get the exam without reference answers or rubrics
		forStudent := !checker.Has(role, "exam:view-full")
		e, err := svc.GetExam(r.Context(), id, forStudent)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func StartAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExamID string `json:"exam_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.ExamID == "" {
			http.Error(w, "exam_id required", http.StatusBadRequest)
			return
		}
		student := auth.SubjectFromContext(r.Context())
		a, err := svc.Start(r.Context(), student, req.ExamID, clientIP(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func SubmitAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		var req struct {
			Answers []exam.Answer `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := requireOwnAttempt(svc, r, id); err != nil {
			writeError(w, err)
			return
		}
		a, err := svc.Submit(r.Context(), id, req.Answers)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func ReportActivityHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		var ev exam.ActivityEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := requireOwnAttempt(svc, r, id); err != nil {
			writeError(w, err)
			return
		}
		if ev.ObservedIP == "" {
			ev.ObservedIP = clientIP(r)
		}
		score, err := svc.ReportActivity(r.Context(), id, ev)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"suspicion_score": score})
	}
}

func GetAttemptHandler(svc *exam.Service, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := svc.GetAttempt(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		role := rbac.RoleFromContext(r.Context())
		if a.StudentID != auth.SubjectFromContext(r.Context()) && !checker.Has(role, "attempt:view-all") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func ListAttemptsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		attempts, err := svc.ListExamAttempts(r.Context(), examID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, attempts)
	}
}

func ScanPlagiarismHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		var req struct {
			Threshold float64 `json:"threshold"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
		}
		rep, err := svc.ScanPlagiarism(r.Context(), examID, req.Threshold)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func OverrideReviewHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		var req struct {
			Points map[string]float64 `json:"points"`
			Note   string             `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reviewer := auth.SubjectFromContext(r.Context())
		a, err := svc.OverrideReview(r.Context(), id, reviewer, req.Points, req.Note)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func AuditSuspicionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		score, err := svc.AuditSuspicion(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"replayed_score": score})
	}
}

// requireOwnAttempt rejects writes against another student's attempt.
func requireOwnAttempt(svc *exam.Service, r *http.Request, attemptID string) error {
	a, err := svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		return err
	}
	if a.StudentID != auth.SubjectFromContext(r.Context()) {
		return exam.ErrAttemptNotFound
	}
	return nil
}

// clientIP is the bare remote address; middleware.RealIP has already
// substituted any forwarded address, the port would fake IP changes on
// every new connection.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
