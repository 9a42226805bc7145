package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedResponse = errors.New("client: unexpected response")
	ErrClosed             = errors.New("client: closed")
)

// NoticeError carries a recoverable msgb notice. The session stays open.
type NoticeError struct {
	Message string
}

func (e *NoticeError) Error() string { return "client: server notice: " + e.Message }

// FatalError carries an errr reason. The server closes the session after
// sending it.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "client: server closed session: " + e.Reason }

func unexpected(want string, got any) error {
	return fmt.Errorf("%w: want %s, got %T", ErrUnexpectedResponse, want, got)
}
