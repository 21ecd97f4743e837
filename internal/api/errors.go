package api

import (
	"errors"

	"github.com/samcharles93/bagpool/internal/layout"
	"github.com/samcharles93/bagpool/internal/pooling"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// IsClientError reports whether err was caused by the request contents
// rather than by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, layout.ErrInvalidLayout) ||
		errors.Is(err, layout.ErrOutOfRange) ||
		errors.Is(err, pooling.ErrShape) ||
		errors.Is(err, pooling.ErrUnsupportedMode)
}
