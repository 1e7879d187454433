package models

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityMissing is returned when an action needs a player id and none is resolved.
	ErrIdentityMissing = errors.New("no local player identity")
	// ErrNotConnected is returned when an action is published without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrNotHost is returned when a non-host tries to start the game.
	ErrNotHost = errors.New("only the host can start the game")
	// ErrAnswerClosed is returned when answering outside the question phase.
	ErrAnswerClosed = errors.New("answers are closed for this question")
	// ErrSessionClosed is returned when a session has stopped running.
	ErrSessionClosed = errors.New("session closed")
)

// ProtocolError reports an inbound payload that could not be decoded.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a connection level failure. It is never fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
