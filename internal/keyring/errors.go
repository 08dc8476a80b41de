package keyring

import "errors"

var (
	// ErrIncorrectPassword covers both a wrong password and a tampered
	// record; the two cannot be told apart.
	ErrIncorrectPassword = errors.New("incorrect password")

	ErrUnknownUser   = errors.New("unknown user")
	ErrUserExists    = errors.New("user already registered")
	ErrLocked        = errors.New("vault is locked")
	ErrEmptyPassword = errors.New("password must not be empty")
)
