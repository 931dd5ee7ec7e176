package fingerprint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Element names used when a JSON document is represented as a body tree.
const (
	JSONObjectName  = "jsonObject"
	JSONArrayName   = "jsonArray"
	JSONElementName = "jsonElement"
)

// ParseJSON builds a body tree from a JSON document so JSON request bodies
// are fingerprinted by the same canonical tree hash as XML bodies.
//
// An object becomes a jsonObject element whose members are child elements
// named by key, in document order. A top-level array becomes a jsonArray
// element of jsonElement children; an array member repeats its key element
// once per item. Scalars become text holding the JSON literal, with strings
// unquoted.
func ParseJSON(b []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	var root *Element
	switch tok {
	case json.Delim('{'):
		root = &Element{Local: JSONObjectName}
		err = decodeObject(dec, root)
	case json.Delim('['):
		root = &Element{Local: JSONArrayName}
		err = decodeArray(dec, root, JSONElementName)
	default:
		root = &Element{Local: JSONObjectName, Children: []Node{scalarText(tok)}}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedBody)
	}
	return root, nil
}

func decodeObject(dec *json.Decoder, parent *Element) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("object key is %T", keyTok)
		}

		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('['):
			if err := decodeArray(dec, parent, key); err != nil {
				return err
			}
		default:
			child, err := decodeValue(dec, key, tok)
			if err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
		}
	}
	_, err := dec.Token()
	return err
}

// decodeArray appends one element named name per item to parent.
func decodeArray(dec *json.Decoder, parent *Element, name string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if tok == json.Delim('[') {
			nested := &Element{Local: name}
			if err := decodeArray(dec, nested, JSONElementName); err != nil {
				return err
			}
			parent.Children = append(parent.Children, nested)
			continue
		}
		child, err := decodeValue(dec, name, tok)
		if err != nil {
			return err
		}
		parent.Children = append(parent.Children, child)
	}
	_, err := dec.Token()
	return err
}

func decodeValue(dec *json.Decoder, name string, tok json.Token) (*Element, error) {
	el := &Element{Local: name}
	if tok == json.Delim('{') {
		if err := decodeObject(dec, el); err != nil {
			return nil, err
		}
		return el, nil
	}
	el.Children = []Node{scalarText(tok)}
	return el, nil
}

func scalarText(tok json.Token) *Text {
	switch v := tok.(type) {
	case string:
		return &Text{Data: v}
	case json.Number:
		return &Text{Data: v.String()}
	case bool:
		if v {
			return &Text{Data: "true"}
		}
		return &Text{Data: "false"}
	default:
		return &Text{Data: "null"}
	}
}
