package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrAccountUnverified  = errors.New("auth: account unverified")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrAPIKeyInvalid      = errors.New("auth: api key invalid")
	ErrPermissionDenied   = errors.New("auth: permission denied")
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
