package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Node type tags written ahead of each digested node.
const (
	tagElement  uint32 = 1
	tagAttr     uint32 = 2
	tagText     uint32 = 3
	tagProcInst uint32 = 7
)

// DefaultAlgorithm is the hash used when none is configured.
// Fingerprints are cache keys, not security tokens.
const DefaultAlgorithm = "MD5"

var algorithms = map[string]func() hash.Hash{
	"MD5":     md5.New,
	"SHA-1":   sha1.New,
	"SHA1":    sha1.New,
	"SHA-256": sha256.New,
	"SHA256":  sha256.New,
	"SHA-512": sha512.New,
	"SHA512":  sha512.New,
}

var separator = []byte{0, 0}

// textEncoding is the single character encoding used for every string that
// enters a digest: UTF-16 big-endian without byte order mark.
var textEncoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Generator computes fingerprints for request descriptors.
//
// Contract:
//   - Determinism: equal descriptors under equal options yield equal fingerprints.
//   - An empty fingerprint with a nil error means the request has nothing
//     stable to key on and must not be cached.
//   - Concurrency: implementations must be safe for concurrent use.
type Generator interface {
	Fingerprint(d Descriptor, opts Options) (string, error)
}

// TreeHasher is the canonical tree-hash generator. The zero value uses
// DefaultAlgorithm.
type TreeHasher struct {
	Algorithm string
}

// NewTreeHasher creates a tree hasher for the named algorithm.
// The algorithm is resolved on use so that configuration errors surface as
// ErrDigestFailure during mediation.
func NewTreeHasher(algorithm string) *TreeHasher {
	return &TreeHasher{Algorithm: algorithm}
}

// Fingerprint implements Generator.
func (t *TreeHasher) Fingerprint(d Descriptor, opts Options) (string, error) {
	dg, err := t.digester()
	if err != nil {
		return "", err
	}

	headers := SurvivingHeaders(d.Headers, opts)

	var sum []byte
	if !opts.IncludeBody {
		if d.To == "" {
			return "", nil
		}
		sum, err = dg.requestDigest(d.To, headers, nil)
	} else {
		if d.Body == nil {
			return "", nil
		}
		if d.To == "" {
			sum, err = dg.node(d.Body)
		} else {
			var body []byte
			if body, err = dg.node(d.Body); err == nil {
				sum, err = dg.requestDigest(d.To, headers, body)
			}
		}
	}
	if err != nil {
		return "", err
	}
	if len(sum) == 0 {
		return "", nil
	}
	return hex.EncodeToString(sum), nil
}

func (t *TreeHasher) digester() (digester, error) {
	name := t.Algorithm
	if name == "" {
		name = DefaultAlgorithm
	}
	newHash, ok := algorithms[strings.ToUpper(name)]
	if !ok {
		return digester{}, fmt.Errorf("%w: hash algorithm %q is not available", ErrDigestFailure, name)
	}
	return digester{newHash: newHash}, nil
}

type digester struct {
	newHash func() hash.Hash
}

func (d digester) sum(b []byte) []byte {
	h := d.newHash()
	h.Write(b)
	return h.Sum(nil)
}

// requestDigest digests the address, the header digests and an optional body digest.
func (d digester) requestDigest(to string, headers []Header, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, to); err != nil {
		return nil, err
	}
	for _, h := range headers {
		hd, err := d.header(h)
		if err != nil {
			return nil, err
		}
		buf.Write(hd)
	}
	buf.Write(body)
	return d.sum(buf.Bytes()), nil
}

func (d digester) header(h Header) ([]byte, error) {
	return d.pair(tagAttr, h.Name, h.Value)
}

func (d digester) pair(tag uint32, name, value string) ([]byte, error) {
	var buf bytes.Buffer
	writeTag(&buf, tag)
	if err := writeString(&buf, name); err != nil {
		return nil, err
	}
	buf.Write(separator)
	if err := writeString(&buf, value); err != nil {
		return nil, err
	}
	return d.sum(buf.Bytes()), nil
}

// node digests a body tree bottom-up. Unrecognized kinds yield an empty digest.
func (d digester) node(n Node) ([]byte, error) {
	switch v := n.(type) {
	case *Element:
		return d.element(v)
	case *Text:
		var buf bytes.Buffer
		writeTag(&buf, tagText)
		if err := writeString(&buf, v.Data); err != nil {
			return nil, err
		}
		return d.sum(buf.Bytes()), nil
	case *ProcInst:
		return d.pair(tagProcInst, v.Target, v.Value)
	default:
		return nil, nil
	}
}

func (d digester) element(e *Element) ([]byte, error) {
	var buf bytes.Buffer
	writeTag(&buf, tagElement)
	if err := writeString(&buf, e.ExpandedName()); err != nil {
		return nil, err
	}

	attrs := canonicalAttrs(e.Attrs)
	writeTag(&buf, uint32(len(attrs)))
	for _, a := range attrs {
		ad, err := d.pair(tagAttr, a.ExpandedName(), a.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(ad)
	}

	writeTag(&buf, uint32(len(e.ChildElements())))
	for _, c := range e.Children {
		cd, err := d.node(c)
		if err != nil {
			return nil, err
		}
		buf.Write(cd)
	}
	return d.sum(buf.Bytes()), nil
}

// canonicalAttrs drops namespace declarations and sorts by expanded name.
// A repeated expanded name keeps its last value.
func canonicalAttrs(attrs []Attr) []Attr {
	byName := make(map[string]Attr, len(attrs))
	for _, a := range attrs {
		if a.IsNamespaceDecl() {
			continue
		}
		byName[a.ExpandedName()] = a
	}
	out := make([]Attr, 0, len(byName))
	for _, a := range byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpandedName() < out[j].ExpandedName()
	})
	return out
}

func writeTag(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := encodeText(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// encodeText converts s into the digest encoding.
func encodeText(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrDigestFailure)
	}
	b, err := textEncoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: encode text: %v", ErrDigestFailure, err)
	}
	return b, nil
}

// Ensure TreeHasher implements Generator
var _ Generator = (*TreeHasher)(nil)
