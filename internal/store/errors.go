package store

import "errors"

var (
	ErrStore = errors.New("store error")
	ErrMiss  = errors.New("cache miss")
)
