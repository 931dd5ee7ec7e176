// Package fingerprint derives stable cache keys from requests.
//
// A request is described by its target address, its transport headers and an
// optional structured body tree. The canonical tree hasher digests the body
// bottom-up so that structurally irrelevant variation does not change the key:
//
//   - attributes are sorted by expanded name, so declaration order is irrelevant
//   - namespace declarations are ignored, only resolved namespaces count
//   - headers named Date or User-Agent never contribute
//   - headers are sorted by name before hashing, so the caller's header
//     order does not matter
//
// Text is hashed verbatim. Two bodies that differ only in whitespace produce
// different fingerprints.
//
// # Encoding
//
// Every string (address, header names and values, element and attribute
// names, text) is encoded as UTF-16 big-endian without byte order mark before
// it enters a digest. Fingerprints computed with a different encoding will not
// match.
//
// # Basic Usage
//
//	body, err := fingerprint.ParseXMLBytes(payload)
//	if err != nil {
//		return err
//	}
//
//	fp, err := fingerprint.Default().Fingerprint(fingerprint.Descriptor{
//		To:      "http://backend/orders",
//		Headers: []fingerprint.Header{{Name: "Accept", Value: "application/xml"}},
//		Body:    body,
//	}, fingerprint.Options{IncludeBody: true})
//	if err != nil {
//		return err // wraps ErrDigestFailure
//	}
//	if fp == "" {
//		// nothing stable to key on, do not cache
//	}
//
// # Generators
//
// Generators are selected by name at configuration time. The built-in names
// are "default" (MD5 tree hash), "tree-md5", "tree-sha1" and "tree-sha256".
// Custom generators are added with Register.
package fingerprint
