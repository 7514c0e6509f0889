package parser

import "fmt"

// MalformedDataError means the payload could not be decoded with the configured dialect
type MalformedDataError struct {
	Dialect string
	Message string
	Err     error
}

func (e *MalformedDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s data: %s: %v", e.Dialect, e.Message, e.Err)
	}
	return fmt.Sprintf("malformed %s data: %s", e.Dialect, e.Message)
}

func (e *MalformedDataError) Unwrap() error {
	return e.Err
}

func NewMalformedDataError(dialect, message string, err error) *MalformedDataError {
	return &MalformedDataError{
		Dialect: dialect,
		Message: message,
		Err:     err,
	}
}

// EmptyResultError is returned when decoding succeeded but yielded no usable record
type EmptyResultError struct {
	Dialect string
	Skipped int
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("no valid %s station records (%d skipped)", e.Dialect, e.Skipped)
}

func NewEmptyResultError(dialect string, skipped int) *EmptyResultError {
	return &EmptyResultError{
		Dialect: dialect,
		Skipped: skipped,
	}
}
