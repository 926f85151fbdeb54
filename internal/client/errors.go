package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoFiles is returned by Submit for an empty batch. No request is sent.
	ErrNoFiles = errors.New("no files to submit")

	// ErrSessionNotFound indicates the progress endpoint does not know the session,
	// typically because it expired server-side.
	ErrSessionNotFound = errors.New("upload session not found")
)

// SubmissionError reports a failed batch submission: either a transport failure
// (Err set, StatusCode zero) or a server rejection (StatusCode set, optional Message).
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("upload could not start: server returned %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("upload could not start: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload could not start: server returned %d", e.StatusCode)
	case e.Message != "":
		return "upload could not start: " + e.Message
	default:
		return "upload could not start"
	}
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
