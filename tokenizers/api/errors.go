package api

import "github.com/pkg/errors"

// Error kinds reported by the tokenizer packages. Errors returned by this module wrap one of
// them with context, so callers classify failures with errors.Is.
var (
	// ErrConfiguration is returned when a model, normalizer or option can't be used as configured:
	// uninitialized processors, malformed model descriptors, unknown extra options, or special pieces
	// missing from the vocabulary. It is reported before any input is processed.
	ErrConfiguration = errors.New("configuration error")

	// ErrIntegrity signals a broken contract between the processor and its collaborators: pieces
	// that don't consume the normalized input exactly, empty pieces, out-of-bounds offsets or
	// malformed repeat markers.
	ErrIntegrity = errors.New("integrity error")

	// ErrEncoding is returned for invalid spans or ids requested by the caller.
	ErrEncoding = errors.New("encoding error")
)
