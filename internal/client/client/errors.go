package client

import "errors"

var (
	ErrUnavailable        = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSubscriptionClosed = errors.New("subscription closed")
)
