package dialog

import (
	"errors"
	"fmt"
)

// ErrUnsupportedLanguage is returned when a message has no text for the turn language.
var ErrUnsupportedLanguage = errors.New("dialog: unsupported language")

// ProtocolError is a turn that cannot be fulfilled at all. It is surfaced to the
// caller as an explicit error response instead of a conversational reply.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// UnknownIntent reports an intent with no registered fulfillment.
func UnknownIntent(name string) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf("No fulfillment found for intent: %s", name)}
}

// UnsupportedLanguage reports a language the message catalog cannot answer in.
func UnsupportedLanguage(lang string) *ProtocolError {
	return &ProtocolError{
		Message: fmt.Sprintf("No fulfilment message available for language: %s", lang),
		Err:     ErrUnsupportedLanguage,
	}
}

// AsProtocolError unwraps err into a ProtocolError when it is one.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
