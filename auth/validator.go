package auth

import (
	"chat-relay/protocol"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateLogin checks that a login record carries both required fields.
// Credential verification happens against the user repository, not here.
func ValidateLogin(req protocol.LoginRequest) error {
	return validate.Struct(req)
}

// ValidateMessage reports whether a chat record is well-formed. The session
// drops malformed records without a reply, so no user-facing error is built.
func ValidateMessage(req protocol.MessageRequest) error {
	return validate.Struct(req)
}
