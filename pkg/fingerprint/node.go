package fingerprint

import "strings"

// NodeKind identifies the kind of a body tree node.
type NodeKind int

const (
	// KindElement is an element node.
	KindElement NodeKind = iota + 1
	// KindText is a character data node.
	KindText
	// KindProcInst is a processing instruction.
	KindProcInst
	// KindComment is a comment. Comments do not contribute to fingerprints.
	KindComment
)

// Node is a node of a structured request body.
type Node interface {
	Kind() NodeKind
}

// Attr is an element attribute.
type Attr struct {
	// Space is the namespace URI, or "xmlns" for prefixed namespace declarations.
	Space string
	Local string
	Value string
}

// ExpandedName returns "uri:local" for qualified attributes and "local" otherwise.
func (a Attr) ExpandedName() string {
	return expandedName(a.Space, a.Local)
}

// IsNamespaceDecl reports whether the attribute declares a namespace
// (xmlns="..." or xmlns:p="...").
func (a Attr) IsNamespaceDecl() bool {
	switch {
	case a.Space == "" && a.Local == "xmlns":
		return true
	case a.Space == "xmlns":
		return true
	case len(a.Local) > 6 && a.Local[:6] == "xmlns:":
		return true
	default:
		return false
	}
}

// Element is an element node.
type Element struct {
	Space    string
	Local    string
	Attrs    []Attr
	Children []Node
}

// Kind implements Node.
func (*Element) Kind() NodeKind { return KindElement }

// ExpandedName returns "uri:local" for qualified elements and "local" otherwise.
func (e *Element) ExpandedName() string {
	return expandedName(e.Space, e.Local)
}

// ChildElements returns the direct element children in document order.
func (e *Element) ChildElements() []*Element {
	var out []*Element
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok {
			out = append(out, el)
		}
	}
	return out
}

// FirstElement returns the first child element, or nil.
func (e *Element) FirstElement() *Element {
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok {
			return el
		}
	}
	return nil
}

// Text is a character data node. Content is kept verbatim.
type Text struct {
	Data string
}

// Kind implements Node.
func (*Text) Kind() NodeKind { return KindText }

// ProcInst is a processing instruction.
type ProcInst struct {
	Target string
	Value  string
}

// Kind implements Node.
func (*ProcInst) Kind() NodeKind { return KindProcInst }

// Comment is a comment node.
type Comment struct {
	Data string
}

// Kind implements Node.
func (*Comment) Kind() NodeKind { return KindComment }

func expandedName(space, local string) string {
	if space == "" {
		return local
	}
	return space + ":" + local
}

// MethodRoot places body under an element named after the request method,
// so that requests differing only in method never share a body-inclusive
// fingerprint. A nil body yields the bare method element. An empty method
// is treated as GET.
func MethodRoot(method string, body Node) *Element {
	if method == "" {
		method = "GET"
	}
	root := &Element{Local: strings.ToUpper(method)}
	if body != nil {
		root.Children = []Node{body}
	}
	return root
}
