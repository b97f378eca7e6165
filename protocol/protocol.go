// Package protocol defines the wire format of the relay: JSON records
// separated by a zero byte, and the record shapes exchanged with clients.
package protocol

// Response codes carried in a LoginResult.
const (
	ResponseOK             = 0
	ResponseBadLogin       = 1
	ResponseUnknownUser    = 2
	ResponseBadLoginNoUser = 3
)

// MessageTypeUser marks a regular relayed chat message. The field exists to
// distinguish system-originated records, none of which are emitted today.
const MessageTypeUser = 1

// LoginRequest is the first record a client must send. Pointer fields so a
// missing key can be told apart from an empty value.
type LoginRequest struct {
	User   *string `json:"user" validate:"required"`
	Pass   *string `json:"pass" validate:"required"`
	Create bool    `json:"create,omitempty"`
}

// MessageRequest asks the relay to deliver Message to every name in Users.
type MessageRequest struct {
	Users   []string `json:"users" validate:"required"`
	Message *string  `json:"message" validate:"required"`
}

// LoginResult acknowledges a login attempt. Users carries the roster and is
// only present when Response is ResponseOK.
type LoginResult struct {
	Response int      `json:"response"`
	Message  string   `json:"message"`
	Users    []string `json:"users,omitempty"`
}

// ChatMessage is an incoming message as seen by a client.
type ChatMessage struct {
	User    string `json:"user"`
	Message string `json:"message"`
	Type    int    `json:"type"`
}
