package flowkeeper

import "errors"

var (
	// ErrInvalidPage is returned when a crawled page has no ID.
	ErrInvalidPage = errors.New("flowkeeper: invalid page")
	// ErrUnknownFingerprint is returned when healing names a fingerprint
	// that is not stored.
	ErrUnknownFingerprint = errors.New("flowkeeper: unknown fingerprint")
)
