package session

import "errors"

// Code is the closed enumeration of wire-visible command failures,
// surfaced to clients as errorWithCode events.
type Code string

const (
	CodeInternalError      Code = "internalError"
	CodeInvalidMessage     Code = "invalidMessage"
	CodeRoomNotFound       Code = "roomNotFound"
	CodeRejoinRoomNotFound Code = "rejoinRoomNotFound"
	CodeNotInRoom          Code = "notInRoom"
	CodeIncorrectPassword  Code = "incorrectPassword"
	CodeRoomClosed         Code = "roomClosed"
	CodeNotCreatorOfRoom   Code = "notCreatorOfRoom"
	CodeAlreadyInQueue     Code = "alreadyInQueue"
	CodeVideoNotFound      Code = "videoNotFound"
	CodeVideoNotEmbeddable Code = "videoNotEmbeddable"
)

// Error is a domain failure carrying a wire code. Anything else escaping a
// handler is logged and reported as a generic error event.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

// fail builds a coded domain error.
func fail(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// asDomain extracts a coded error from err, if it is one.
func asDomain(err error) (*Error, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}
