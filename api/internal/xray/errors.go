package xray

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMediaType = errors.New("invalid media type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrUnreachable      = errors.New("backend unreachable")
)

// BackendError — бэкенд ответил не-2xx. Body отдаётся пользователю как есть.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// UnreachableError keeps the transport cause while matching ErrUnreachable.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return "backend unreachable: " + e.Err.Error()
}

func (e *UnreachableError) Unwrap() []error { return []error{ErrUnreachable, e.Err} }

// Message переводит ошибку в текст для пользователя.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be *BackendError
	switch {
	case errors.Is(err, ErrInvalidMediaType):
		return "Please select a valid image file (JPG, JPEG, or PNG)"
	case errors.Is(err, ErrFileTooLarge):
		return "File size must be less than 10MB"
	case errors.Is(err, ErrUnreachable):
		return "Cannot connect to server. Please check if the backend is running and the URL is correct."
	case errors.As(err, &be):
		return fmt.Sprintf("HTTP error! status: %d, message: %s", be.Status, be.Body)
	case errors.Is(err, context.DeadlineExceeded):
		return "The backend did not answer in time. Please try again."
	default:
		return err.Error()
	}
}
