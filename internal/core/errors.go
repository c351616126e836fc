package core

import "errors"

// Error codes for domain errors sent over the wire.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeInvalidKey   = "invalid_key"
	ErrCodeInvalidToken = "invalid_token"
	ErrCodeIDTaken      = "id_taken"
	ErrCodeRateLimited  = "rate_limited"
)

var (
	// ErrDeliveryFailed wraps any failure to hand a message to a client.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrClientClosed is returned when sending to a disconnected client.
	ErrClientClosed = errors.New("client closed")
	// ErrIDTaken is returned when registering an id held by another token.
	ErrIDTaken = errors.New("id is taken")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewCoreError builds a coded error.
func NewCoreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
