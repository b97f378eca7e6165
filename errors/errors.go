package errors

import "fmt"

var (
	ErrBadLoginMessage   = fmt.Errorf("bad login message")
	ErrUnknownUser       = fmt.Errorf("unknown user")
	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrNotConnected      = fmt.Errorf("recipient not connected")
	ErrSessionClosed     = fmt.Errorf("session closed")
	ErrInvalidHashFormat = fmt.Errorf("invalid hash format")
)
