// Package common defines shared constants and sentinel errors used across
// the chat client and its backend adapters. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound        = errors.New("not found")
	ErrorIncorrectRecord = errors.New("incorrect record")

	// Validation errors, returned before any network call.
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content is too long")

	// Identity errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
