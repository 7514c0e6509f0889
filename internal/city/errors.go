package city

import (
	"errors"
	"fmt"
)

// ErrUpdateInProgress is returned by Update while another cycle is running.
var ErrUpdateInProgress = errors.New("update already in progress")

// TransportError reports a failure to retrieve the remote station data.
type TransportError struct {
	URL     string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.URL, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.URL)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(url, message string, err error) *TransportError {
	return &TransportError{
		URL:     url,
		Message: message,
		Err:     err,
	}
}
