package desk

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth is returned by Login for rejected credentials or an
	// unreachable desk.
	ErrAuth = errors.New("desk: authentication failed")

	// ErrControl is returned when operator control cannot be taken.
	ErrControl = errors.New("desk: control not granted")

	// ErrControlTimeout is returned by a forced TakeControl when the circle
	// button was not pressed in time. It also matches ErrControl.
	ErrControlTimeout = fmt.Errorf("%w: confirmation timed out", ErrControl)

	// ErrState is returned when the desk rejects a command because its
	// preconditions do not hold, e.g. FCI with closed brakes.
	ErrState = errors.New("desk: precondition not met")

	// ErrInvalidMode is returned for an operating mode the platform does
	// not support. No request is sent.
	ErrInvalidMode = errors.New("desk: invalid operating mode")

	// ErrPermission is returned when a command needs operator control that
	// this client does not hold, or the desk refuses the caller.
	ErrPermission = errors.New("desk: permission denied")
)

// RequestError is a non-200 response from the desk.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("desk: %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// classify maps a rejected command onto the error taxonomy. With stateful
// set, every client error other than an authorisation failure counts as an
// unmet precondition.
func classify(err error, stateful bool) error {
	var re *RequestError
	if !errors.As(err, &re) {
		return err
	}
	switch code := re.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrPermission, err)
	case code == http.StatusConflict || code == http.StatusPreconditionFailed || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", ErrState, err)
	case stateful && code >= 400 && code < 500:
		return fmt.Errorf("%w: %w", ErrState, err)
	}
	return err
}
