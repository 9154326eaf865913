package fingerprint

import "errors"

// ErrMissingID is returned when a fingerprint without an ID is written.
var ErrMissingID = errors.New("fingerprint: missing id")
