package errors

import (
	"errors"
)

// UserError represents an error with both technical and user-friendly messages
type UserError struct {
	Err       error
	UserMsg   string
	Retryable bool
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// GenericUserMessage is shown when a failure carries no user-facing text.
const GenericUserMessage = "⚠️ An error occurred while processing the command. Please try again later."

// Predefined errors
var (
	ErrDataSourceUnavailable = &UserError{
		Err:       errors.New("integration database unavailable"),
		UserMsg:   "⚠️ The integration database is currently unavailable. Please try again later.",
		Retryable: true,
	}

	ErrRequestNotFound = &UserError{
		Err:       errors.New("authorization request not found"),
		UserMsg:   "❌ Authorization request not found. Use /listrequests to see pending requests.",
		Retryable: false,
	}

	ErrRequestProcessed = &UserError{
		Err:       errors.New("authorization request already processed"),
		UserMsg:   "ℹ️ This authorization request has already been processed.",
		Retryable: false,
	}

	ErrUnknownJob = &UserError{
		Err:       errors.New("unknown job"),
		UserMsg:   "❌ Unknown job.",
		Retryable: false,
	}

	ErrNotSubscribed = &UserError{
		Err:       errors.New("chat is not subscribed"),
		UserMsg:   "ℹ️ This chat is not subscribed.",
		Retryable: false,
	}

	ErrUserNotAuthorized = &UserError{
		Err:       errors.New("user has no active authorization"),
		UserMsg:   "ℹ️ This user has no active authorization.",
		Retryable: false,
	}
)

// Wrap wraps a technical error with a user message
func Wrap(err error, userMsg string, retryable bool) *UserError {
	return &UserError{
		Err:       err,
		UserMsg:   userMsg,
		Retryable: retryable,
	}
}

// GetUserMessage extracts user-friendly message from error
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMsg
	}
	return GenericUserMessage
}

// IsRetryable checks if an error can be retried
func IsRetryable(err error) bool {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Retryable
	}
	return false
}
