package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated indicates no credential is stored; nothing was sent.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSessionExpired indicates the refresh failed; credentials were cleared
	// and the consumer must return to the entry point.
	ErrSessionExpired = errors.New("session expired")
	// ErrAuthenticationFailed indicates login did not yield credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrLoginThrottled indicates too many recent login attempts for the account.
	ErrLoginThrottled = errors.New("too many login attempts, try again later")
	// ErrRemoteRejected matches every *APIError.
	ErrRemoteRejected = errors.New("request rejected by remote service")
	// ErrTransportFailure matches every *TransportError.
	ErrTransportFailure = errors.New("transport failure")
)

// APIError represents a non-2xx response from the remote service.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrRemoteRejected) match API errors.
func (e *APIError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// Unauthorized reports whether the response signals an expired or invalid credential.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// TransportError wraps a failure to obtain any response (network, timeout).
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransportFailure) match transport errors.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}
