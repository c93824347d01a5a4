package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/examguard/examguard/internal/exam"
	"github.com/examguard/examguard/internal/integrity"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps lifecycle errors onto HTTP status codes; anything
// unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exam.ErrExamNotFound),
		errors.Is(err, exam.ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, exam.ErrAlreadyActive),
		errors.Is(err, exam.ErrAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, exam.ErrAttemptsExhausted),
		errors.Is(err, exam.ErrDeadlineExceeded),
		errors.Is(err, exam.ErrNotPublished):
		return http.StatusForbidden
	case errors.Is(err, exam.ErrAttemptNotActive),
		errors.Is(err, exam.ErrUnknownQuestion),
		errors.Is(err, exam.ErrDuplicateAnswer),
		errors.Is(err, integrity.ErrInvalidEventKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
