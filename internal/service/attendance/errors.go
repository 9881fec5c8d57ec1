package attendance

import "errors"

var (
	ErrNotFound           = errors.New("identifier does not resolve to a registrant")
	ErrInvalidOrCancelled = errors.New("enrollment is not confirmed")
)
