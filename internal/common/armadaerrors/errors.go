// Package armadaerrors contains generic errors shared across the spider's components, together with helpers for
// classifying errors returned by remote services.
//
// If multiple errors occur in some function (e.g., several collectors are unreachable), that function should
// return an error of type multierror.Error from package github.com/hashicorp/go-multierror that encapsulates
// those individual errors.
package armadaerrors

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "bunchSize"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrMaxRetriesExceeded is returned when an operation has been retried the maximum number of times without success.
type ErrMaxRetriesExceeded struct {
	Message   string
	Attempts  int
	LastError error
}

func (err *ErrMaxRetriesExceeded) Error() string {
	if err.Message != "" {
		return fmt.Sprintf("exceeded maximum number of retries (%d); %s: %s", err.Attempts, err.Message, err.LastError)
	}
	return fmt.Sprintf("exceeded maximum number of retries (%d): %s", err.Attempts, err.LastError)
}

func (err *ErrMaxRetriesExceeded) Unwrap() error {
	return err.LastError
}

// IsNetworkError returns true if err is the result of a transport level failure, i.e. something that may succeed
// if the same request is issued again.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	{
		var e net.Error
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *url.Error
		if errors.As(err, &e) {
			return true
		}
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// IsDeadline returns true if err was caused by a context deadline expiring.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
