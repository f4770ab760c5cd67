package relay

import "errors"

var (
	ErrClosed         = errors.New("relay: closed")
	ErrAlreadyStarted = errors.New("relay: already started")
)
