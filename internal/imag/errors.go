package imag

import (
	"fmt"
	"net/http"

	"quotesbot/internal/domain"
)

// StatusError is returned when the repository answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("imag: %s returned HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("imag: %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Is matches domain.ErrRejected for every StatusError and
// domain.ErrNotFound for 404 responses.
func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrRejected:
		return true
	case domain.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
