package watchdog

import "errors"

var (
	ErrInvalidSource    = errors.New("invalid source")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrDuplicateSource  = errors.New("source already watched")
	ErrInvalidTolerance = errors.New("tolerance must be positive")
)
