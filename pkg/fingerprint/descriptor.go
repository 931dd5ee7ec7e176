package fingerprint

import (
	"sort"
	"strings"
)

// ExcludeAll is the excluded-header sentinel that removes every header from
// the fingerprint.
const ExcludeAll = "exclude-all"

// Header is a single transport header.
type Header struct {
	Name  string
	Value string
}

// Descriptor describes a request for fingerprinting.
type Descriptor struct {
	// To is the target address. Empty means absent.
	To string

	// Headers are the transport headers in the order the caller received them.
	Headers []Header

	// Body is the root of the structured body, or nil.
	Body Node
}

// Options control which parts of a Descriptor contribute to a fingerprint.
type Options struct {
	// IncludeBody hashes the body tree along with address and headers.
	// When false only address and headers are used (idempotent reads).
	IncludeBody bool

	// ExcludedHeaders are header names (case-sensitive) left out of the hash.
	// A list containing ExcludeAll drops every header.
	ExcludedHeaders []string
}

// excludesAll reports whether the exclusion list carries the sentinel.
func (o Options) excludesAll() bool {
	for _, h := range o.ExcludedHeaders {
		if h == ExcludeAll {
			return true
		}
	}
	return false
}

// alwaysExcluded reports whether a header varies per call without affecting
// the response.
func alwaysExcluded(name string) bool {
	return strings.EqualFold(name, "Date") || strings.EqualFold(name, "User-Agent")
}

// SurvivingHeaders returns the headers that contribute to the fingerprint,
// sorted by name. Headers with equal names keep their relative order.
// The descriptor is not modified.
func SurvivingHeaders(headers []Header, opts Options) []Header {
	if opts.excludesAll() {
		return nil
	}

	excluded := make(map[string]struct{}, len(opts.ExcludedHeaders))
	for _, name := range opts.ExcludedHeaders {
		excluded[name] = struct{}{}
	}

	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		if _, skip := excluded[h.Name]; skip {
			continue
		}
		if alwaysExcluded(h.Name) {
			continue
		}
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
