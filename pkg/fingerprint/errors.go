package fingerprint

import "errors"

var (
	// ErrDigestFailure indicates the fingerprint could not be computed: the
	// hash algorithm is unavailable or a text value cannot be encoded.
	ErrDigestFailure = errors.New("digest failure")

	// ErrUnknownGenerator is returned by Lookup for unregistered names.
	ErrUnknownGenerator = errors.New("unknown fingerprint generator")

	// ErrMalformedBody is returned by the body builders for unparsable input.
	ErrMalformedBody = errors.New("malformed body")
)
