package search

import "errors"

var (
	// ErrEncodeFailure wraps any failure to encode the query text, including timeouts.
	ErrEncodeFailure = errors.New("query encoding failed")
	// ErrIndexCorruption means a search hit named a slot the id map does not cover.
	ErrIndexCorruption = errors.New("index corruption")
	// ErrNoSnapshot is returned when no index build has been loaded.
	ErrNoSnapshot = errors.New("no index loaded")
	// ErrInvalidQuery marks requests rejected before encoding.
	ErrInvalidQuery = errors.New("invalid query")
)
