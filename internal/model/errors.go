package model

import "fmt"

// AuthError is returned when the timetable service rejects a login.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login for %q rejected: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ResolutionError is returned when a filter identifier matches no catalog
// entry and is not a numeric ID either.
type ResolutionError struct {
	Kind       FilterKind
	Identifier string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Identifier)
}

// FetchError wraps any other failure talking to the timetable service.
// Op names the remote step that failed.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("timetable fetch: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
