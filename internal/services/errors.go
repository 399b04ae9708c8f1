package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ServerError is a non-2xx answer from a remote endpoint. Message is whatever the server said;
// it is meant for logs, not for users.
type ServerError struct {
	StatusCode int
	Message    string
}

// MalformedResponseError is a 2xx answer whose body does not have the expected shape.
type MalformedResponseError struct {
	Reason string
	Err    error
}

// ConnectivityError means no response was received at all.
type ConnectivityError struct {
	Err error
}

var (
	// ErrNotFound is returned by backend lookups answered with 404.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthenticated is returned by backend lookups answered with 401 or 403.
	ErrUnauthenticated = errors.New("unauthenticated")
)

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d", e.StatusCode)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("no response received: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// isConnectivity reports whether err happened before any response arrived.
func isConnectivity(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
