package domain

import "errors"

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrPersistence         = errors.New("persistence error")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateRequest    = errors.New("duplicate request")
)
