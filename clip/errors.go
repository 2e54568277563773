package clip

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveTab means no focused tab matched the query.
	ErrNoActiveTab = errors.New("clip: no active tab")
	// ErrScraperUnreachable means a message could not be delivered to the
	// page context (privileged page, tab closed, scraper not attached).
	ErrScraperUnreachable = errors.New("clip: page context unreachable")
	// ErrDecode means the renderer could not decode a raster.
	ErrDecode = errors.New("clip: cannot decode image")
	// ErrService means the note service rejected the request or gave no
	// usable response.
	ErrService = errors.New("clip: note service error")
	// ErrResourceFetch means one image could not be fetched. It never
	// aborts a capture.
	ErrResourceFetch = errors.New("clip: image fetch failed")
)

// ServiceError carries the note service status behind ErrService.
type ServiceError struct {
	Status int
	Body   string
	Cause  error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("clip: note service: %v", e.Cause)
	}
	return fmt.Sprintf("clip: note service status %d: %s", e.Status, e.Body)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrService, e.Cause}
	}
	return []error{ErrService}
}
