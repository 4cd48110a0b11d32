package fingerprint

import "errors"

var (
	ErrFingerprint = errors.New("fingerprint computation failed")
)
