// Package qexml decodes the XML output document written by pw.x into the
// normalized records of the domain package.
package qexml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/ErlanBelekov/pwchain/internal/domain"
)

const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// Document is a parsed pw.x output document. It keeps the raw bytes for the
// typed decode and a generic element tree for schema validation.
type Document struct {
	raw  []byte
	root *node

	// SchemaLocation is the raw xsi:schemaLocation of the root element.
	SchemaLocation string
}

type node struct {
	name     xml.Name
	attrs    []xml.Attr
	children []*node
}

func (n *node) attr(local string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// ReadDocument reads and tokenizes a whole document. Any read or syntax error
// is reported as domain.ErrDocument.
func ReadDocument(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", domain.ErrDocument, err)
	}

	root, err := buildTree(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDocument, err)
	}

	doc := &Document{raw: raw, root: root}
	for _, a := range root.attrs {
		if a.Name.Space == xsiNamespace && a.Name.Local == "schemaLocation" {
			doc.SchemaLocation = a.Value
		}
	}
	return doc, nil
}

// RootName is the local name of the document element.
func (d *Document) RootName() string { return d.root.name.Local }

func buildTree(raw []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}

	if root == nil {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}
