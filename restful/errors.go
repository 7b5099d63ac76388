// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

// This file defines the error taxonomy for the whole package.  Every
// error kind embeds RestfulError, so callers can match a specific
// kind with errors.As and still read the message, HTTP status, and
// raw body off whatever kind they get.

import (
	"errors"
	"fmt"
)

// RestfulError is the payload common to every error kind: a message,
// the HTTP status it came from (0 when no response was involved), and
// the raw response body.
type RestfulError struct {
	Message string
	Code    int
	Body    []byte
}

func (e *RestfulError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return e.Message
}

// HTTPStatus returns the status code of the failing response, or 0 if
// the error did not come from an HTTP response.
func (e *RestfulError) HTTPStatus() int {
	return e.Code
}

// HTTPError reports a non-2xx response that no more specific kind
// claims.
type HTTPError struct {
	RestfulError
}

// AuthenticationError reports a 401 response.  It is never rewritten
// into an operation-specific kind.
type AuthenticationError struct {
	RestfulError
}

// RedirectError reports that the server answered a non-GET request
// with a 301 or 302 redirect.  Following it would silently turn the
// request into a GET, so the client refuses instead.  The message
// names the status, the reason, and the source and target URLs.
type RedirectError struct {
	RestfulError
}

// ParsingError reports a response body that could not be decoded in
// the way the operation expects.
type ParsingError struct {
	RestfulError
}

// AttributeError reports a violated attribute contract: a required
// attribute missing from a create or update, several exclusive
// attributes supplied at once, or a read of an attribute an object
// does not have.  It is raised before any network traffic.
type AttributeError struct {
	RestfulError
}

// CreateError reports a failed create operation.
type CreateError struct {
	RestfulError
}

// DeleteError reports a failed delete operation.
type DeleteError struct {
	RestfulError
}

// GetError reports a failed get operation.
type GetError struct {
	RestfulError
}

// ListError reports a failed list operation.
type ListError struct {
	RestfulError
}

// UpdateError reports a failed update operation.
type UpdateError struct {
	RestfulError
}

// Op names a manager operation, for rewriting a generic HTTP failure
// as that operation's error kind.
type Op int

// Operations whose failures have their own error kind.
const (
	OpCreate Op = iota
	OpDelete
	OpGet
	OpList
	OpUpdate
)

// opError rewrites a generic *HTTPError as the error kind for the
// failing operation, keeping the message, status, and body.  Any
// other error, *AuthenticationError included, passes through
// unchanged.
func opError(op Op, err error) error {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	base := httpErr.RestfulError
	switch op {
	case OpCreate:
		return &CreateError{base}
	case OpDelete:
		return &DeleteError{base}
	case OpGet:
		return &GetError{base}
	case OpList:
		return &ListError{base}
	case OpUpdate:
		return &UpdateError{base}
	}
	return err
}

// attributeError builds an AttributeError with no HTTP context.
func attributeError(format string, args ...interface{}) *AttributeError {
	return &AttributeError{RestfulError{Message: fmt.Sprintf(format, args...)}}
}
