package indexer

import "errors"

var (
	// ErrDuplicateEntity means a creation event arrived for an id that
	// already exists. That is a redelivery bug upstream; callers log it and
	// move on, state is untouched.
	ErrDuplicateEntity = errors.New("duplicate entity")

	// ErrMissingEntity means a follow-up event arrived before the creation
	// it depends on. The event is buffered and retried once the creation is
	// applied; it must never produce a half-populated entity.
	ErrMissingEntity = errors.New("missing entity")
)
