package fingerprint

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ParseXML builds a body tree from an XML document and returns its root
// element. Namespace prefixes are resolved to URIs, adjacent character data
// is merged and empty text is dropped. Whitespace is otherwise preserved.
func ParseXML(r io.Reader) (Node, error) {
	dec := xml.NewDecoder(r)

	var (
		root  *Element
		stack []*Element
	)

	appendChild := func(n Node) {
		if len(stack) == 0 {
			return
		}
		parent := stack[len(stack)-1]
		if t, ok := n.(*Text); ok && len(parent.Children) > 0 {
			if prev, ok := parent.Children[len(parent.Children)-1].(*Text); ok {
				prev.Data += t.Data
				return
			}
		}
		parent.Children = append(parent.Children, n)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Space: t.Name.Space, Local: t.Name.Local}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, Attr{Space: a.Name.Space, Local: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformedBody)
				}
				root = el
			} else {
				appendChild(el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(t) > 0 {
				appendChild(&Text{Data: string(t)})
			}
		case xml.ProcInst:
			appendChild(&ProcInst{Target: t.Target, Value: string(t.Inst)})
		case xml.Comment:
			appendChild(&Comment{Data: string(t)})
		}
	}

	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedBody)
	}
	return root, nil
}

// ParseXMLBytes is ParseXML over a byte slice.
func ParseXMLBytes(b []byte) (Node, error) {
	return ParseXML(bytes.NewReader(b))
}

// WriteXML serializes a body tree. Namespace declarations are regenerated
// from element and attribute namespaces.
func WriteXML(w io.Writer, n Node) error {
	enc := xml.NewEncoder(w)
	if err := encodeNode(enc, n); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeNode(enc *xml.Encoder, n Node) error {
	switch v := n.(type) {
	case *Element:
		start := xml.StartElement{Name: xml.Name{Space: v.Space, Local: v.Local}}
		for _, a := range v.Attrs {
			if a.IsNamespaceDecl() {
				continue
			}
			start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: a.Space, Local: a.Local}, Value: a.Value})
		}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, c := range v.Children {
			if err := encodeNode(enc, c); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())
	case *Text:
		return enc.EncodeToken(xml.CharData(v.Data))
	case *ProcInst:
		return enc.EncodeToken(xml.ProcInst{Target: v.Target, Inst: []byte(v.Value)})
	case *Comment:
		return enc.EncodeToken(xml.Comment(v.Data))
	case nil:
		return nil
	default:
		return fmt.Errorf("write xml: unsupported node kind %d", n.Kind())
	}
}
