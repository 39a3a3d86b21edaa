package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	// ErrNoCredential marks a user without a text-generation credential.
	ErrNoCredential = errors.New("no credential")
)
