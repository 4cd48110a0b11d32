package pipeline

import "errors"

var (
	ErrValidation = errors.New("stage validation failed")
	ErrExecution  = errors.New("stage execution failed")
)
