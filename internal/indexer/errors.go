package indexer

import "errors"

var (
	// ErrConfig reports a missing or unusable index root, build or configuration value.
	ErrConfig = errors.New("index configuration error")
	// ErrNoDocuments is returned when a build finds an empty corpus.
	ErrNoDocuments = errors.New("no documents to index")
	// ErrEncoderOutput is returned when the encoder returns the wrong number or size of vectors.
	ErrEncoderOutput = errors.New("unexpected encoder output")
)
