package state

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMediaNotFound   = errors.New("media item not found")
)
