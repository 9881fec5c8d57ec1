package students

import "errors"

var (
	ErrStudentNotFound    = errors.New("student not found")
	ErrDuplicateMatricula = errors.New("matricula already registered")
	ErrInvalidMatricula   = errors.New("invalid matricula")
)
