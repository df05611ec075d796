package client

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/adamwoolhether/dlfile/download"
)

// maxErrBodySize caps the amount of response body read when
// building an error for an unexpected status code.
const maxErrBodySize = 4 << 10 // 4KB

// execFn represents a func to operate on a response.
type execFn func(response *http.Response) error

var (
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrAuthFailure is matched, along with fs.ErrPermission, when the
	// server responds with 401 Unauthorized or 403 Forbidden.
	ErrAuthFailure = errors.New("auth failure")
	// ErrInvalidRequest is matched for 4xx statuses without a more
	// specific kind.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrServer is matched for 5xx statuses. Downloads failing this way
	// are retried when retries are enabled.
	ErrServer = errors.New("server error")
	// ErrContentLengthMismatch indicates the byte count did not match Content-Length.
	ErrContentLengthMismatch = errors.New("content length mismatch")

	// ErrDownloadCancelled indicates the download was cancelled via context.
	ErrDownloadCancelled = download.ErrDownloadCancelled
)

// UnexpectedStatusError is returned when the HTTP response status code
// does not match the expected value. Besides Err it matches the kind of
// the status: fs.ErrPermission, fs.ErrExist, fs.ErrNotExist,
// ErrInvalidRequest or ErrServer.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() []error {
	return append([]error{e.Err}, statusKinds(e.StatusCode)...)
}

func statusKinds(code int) []error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return []error{ErrAuthFailure, fs.ErrPermission}
	case code == http.StatusConflict:
		return []error{fs.ErrExist}
	case code == http.StatusNotFound || code == http.StatusGone:
		return []error{fs.ErrNotExist}
	case code >= 400 && code < 500:
		return []error{ErrInvalidRequest}
	case code >= 500 && code < 600:
		return []error{ErrServer}
	default:
		return nil
	}
}
