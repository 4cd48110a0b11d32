package runner

import "errors"

var (
	ErrLaunch  = errors.New("failed to launch process")
	ErrTimeout = errors.New("process timed out")
)
