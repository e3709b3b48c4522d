package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing memory record.
	ErrNotFound = errors.New("not found")
	// ErrCloudKeyMissing signals an unconfigured cloud API key.
	ErrCloudKeyMissing = errors.New("cloud API key not configured")
	// ErrCloudProvider signals a cloud provider failure.
	ErrCloudProvider = errors.New("cloud provider error")
	// ErrModelProvider signals a local model runtime failure.
	ErrModelProvider = errors.New("model provider error")
)

// CloudAPIError wraps ErrCloudProvider with the upstream HTTP status text.
type CloudAPIError struct {
	StatusCode int
	Status     string
}

func (e *CloudAPIError) Error() string {
	return fmt.Sprintf("cloud API error: %s", e.Status)
}

func (e *CloudAPIError) Unwrap() error { return ErrCloudProvider }

// NewCloudAPIError creates a cloud API error from an upstream response status.
func NewCloudAPIError(code int, status string) error {
	return &CloudAPIError{StatusCode: code, Status: status}
}
