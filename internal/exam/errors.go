package exam

import "errors"

// Lifecycle violations reported to callers; attempt state is never changed
// by a rejected call.
var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrNotPublished      = errors.New("exam is not published")
	ErrAlreadyActive     = errors.New("an attempt is already in progress")
	ErrAttemptsExhausted = errors.New("maximum attempts reached")
	ErrAlreadySubmitted  = errors.New("attempt already submitted")
	ErrDeadlineExceeded  = errors.New("submission deadline exceeded")
	ErrAttemptNotActive  = errors.New("attempt is not in progress")
	ErrUnknownQuestion   = errors.New("answer references unknown question")
	ErrDuplicateAnswer   = errors.New("multiple answers for the same question")
)
