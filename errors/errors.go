package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrAccountNotFound   = fmt.Errorf("account not found")
	ErrInvalidUsername   = fmt.Errorf("invalid username")
	ErrInvalidPassword   = fmt.Errorf("invalid password")
	ErrInvalidHash       = fmt.Errorf("invalid hash format")

	ErrChannelClosed     = fmt.Errorf("channel closed")
	ErrMailboxFull       = fmt.Errorf("mailbox full")
	ErrMalformedEnvelope = fmt.Errorf("malformed envelope")
	ErrUnknownEnvelope   = fmt.Errorf("unknown envelope type")

	ErrMissingReceiver = fmt.Errorf("message has no receiver")
	ErrUnknownDriver   = fmt.Errorf("unknown store driver")
)
