package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidQuote  = errors.New("invalid quote")
	ErrStaleQuote    = errors.New("stale quote")
	ErrNotPending    = errors.New("opportunity not pending")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
)
