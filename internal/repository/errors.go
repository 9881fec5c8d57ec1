package repository

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCodeUsed    = errors.New("code already used")
	ErrNoCapacity  = errors.New("no capacity available")
	ErrQuotaAtMax  = errors.New("quota already at total")
	ErrNothingDone = errors.New("no rows affected")
)
