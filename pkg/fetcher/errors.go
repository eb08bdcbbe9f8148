/*
Copyright 2024 KubeAGI.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// NetworkError is a transport failure that survived every retry
// attempt. It wraps the last underlying error.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("download of %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is an access failure no retry can fix: a missing or
// unentitled token, an early access gate, or a drive permission or
// quota wall.
type AuthError struct {
	URL    string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("access to %s denied: %s", e.URL, e.Reason)
}

// NotFoundError is a reference to something that no longer exists
// upstream (deleted or private).
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.URL)
}

// HashMismatchError reports a fetched file whose digest disagrees with
// the declared one. The file is kept on disk for inspection.
type HashMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("sha256 mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// permanentError marks a failure another attempt cannot fix, so the
// retry loop stops early.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so retries stop immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether retrying err can possibly help. Taxonomy
// errors with a definite upstream answer and context cancellation are
// permanent; everything else is assumed transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var (
		pe *permanentError
		ae *AuthError
		ne *NotFoundError
		he *HashMismatchError
	)
	if errors.As(err, &pe) || errors.As(err, &ae) || errors.As(err, &ne) || errors.As(err, &he) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// StatusError converts an unexpected HTTP status into the taxonomy:
// auth and not-found statuses are permanent, throttling and server
// errors stay retryable.
func StatusError(url string, code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{URL: url, Reason: fmt.Sprintf("status %d", code)}
	case code == http.StatusNotFound || code == http.StatusGone:
		return &NotFoundError{URL: url}
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("unexpected status %d", code)
	default:
		return Permanent(fmt.Errorf("unexpected status %d", code))
	}
}
