package redemption

import "errors"

var (
	ErrCodeNotFound             = errors.New("code not found")
	ErrCodeUsed                 = errors.New("code already used")
	ErrCodeExpired              = errors.New("code expired")
	ErrProjectNotFound          = errors.New("project not found")
	ErrNoCapacity               = errors.New("no capacity available")
	ErrStudentNotFound          = errors.New("matricula not registered")
	ErrDuplicateEnrollment      = errors.New("student already enrolled in this project")
	ErrAlreadyEnrolledElsewhere = errors.New("student already enrolled in another project")
	ErrInvalidMatricula         = errors.New("invalid matricula")
	ErrRateLimited              = errors.New("rate limited")
)
