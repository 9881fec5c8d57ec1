package projects

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidCapacity = errors.New("capacity must be at least 1")
	ErrInvalidDates    = errors.New("project end must be after start")
)
