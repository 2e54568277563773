package envelope

import "fmt"

// ErrUnhandled is returned when Dispatch targets a name with no handler.
type ErrUnhandled struct {
	Name Name
}

func (e *ErrUnhandled) Error() string {
	return fmt.Sprintf("envelope: unhandled message: %s", e.Name)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Name  Name
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("envelope: handler for %s panicked: %v", e.Name, e.Value)
}

// RemoteError is an error reported by the peer context in an envelope's
// Error field.
type RemoteError struct {
	Name    Name
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("envelope: %s failed: %s", e.Name, e.Message)
}
