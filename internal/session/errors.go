package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/bankwire/internal/ledger"
)

// Notice texts sent in msgb responses.
const (
	NoticeInvalidCredentials = "invalid id or password"
	NoticeAccountNotFound    = "account not found"
	NoticeAccountExists      = "account already exists"
	NoticeFieldTooLong       = "field length exceeded"
	NoticeCapExceeded        = "deposit exceeds balance cap"
	NoticeInsufficientFunds  = "insufficient balance"
	NoticeReceiverCap        = "receiver balance cap exceeded"
	NoticeSelfTransfer       = "cannot transfer to own account"
	NoticeInvalidAmount      = "amount must be positive"

	ReasonInternal = "internal error"
)

// UserError is a recoverable business-rule violation. The session state is
// unchanged and the connection stays open.
type UserError struct {
	Notice string
	Err    error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("session: user error: %s", e.Notice)
}

func (e *UserError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or out-of-state packet. The session is closed
// after an errr response carrying Reason.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session: protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("session: protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(err error) *ProtocolError {
	return &ProtocolError{Reason: err.Error(), Err: err}
}

// asUserError converts ledger business-rule errors to a UserError.
// ok is false for anything that must end the session.
func asUserError(kind requestContext, err error) (*UserError, bool) {
	var notice string
	switch {
	case errors.Is(err, ledger.ErrCredentialMismatch):
		notice = NoticeInvalidCredentials
	case errors.Is(err, ledger.ErrNotFound):
		if kind == contextLogin {
			notice = NoticeInvalidCredentials
		} else {
			notice = NoticeAccountNotFound
		}
	case errors.Is(err, ledger.ErrAlreadyExists):
		notice = NoticeAccountExists
	case errors.Is(err, ledger.ErrFieldTooLong):
		notice = NoticeFieldTooLong
	case errors.Is(err, ledger.ErrCapExceeded):
		notice = NoticeCapExceeded
	case errors.Is(err, ledger.ErrInsufficientFunds):
		notice = NoticeInsufficientFunds
	case errors.Is(err, ledger.ErrReceiverCapExceeded):
		notice = NoticeReceiverCap
	case errors.Is(err, ledger.ErrSelfTransfer):
		notice = NoticeSelfTransfer
	case errors.Is(err, ledger.ErrInvalidAmount):
		notice = NoticeInvalidAmount
	default:
		return nil, false
	}
	return &UserError{Notice: notice, Err: err}, true
}

// FatalReason is the errr text for an error that ends the session. Store
// and other internal failures are not described to the peer.
func FatalReason(err error) string {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Reason
	}
	return ReasonInternal
}

type requestContext uint8

const (
	contextLogin requestContext = iota
	contextOther
)
