package codes

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectInactive = errors.New("project is not active")
	ErrNoCapacity      = errors.New("project has no capacity left")
	ErrCodeCollision   = errors.New("could not generate a unique code")
)
