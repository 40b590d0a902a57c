package session

import "errors"

var (
	ErrSessionClosed         = errors.New("session is closed")
	ErrSessionAlreadyStarted = errors.New("session already started")
)
