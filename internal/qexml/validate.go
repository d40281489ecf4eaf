package qexml

import (
	"fmt"
	"sort"
)

// Validate checks the document against the schema in lax mode: every
// mismatch is returned as a warning, none is fatal. Elements whose type the
// schema does not model are accepted with any content.
func (s *Schema) Validate(doc *Document) []string {
	var warnings []string

	root := doc.root
	if s.TargetNamespace != "" && root.name.Space != s.TargetNamespace {
		warnings = append(warnings, fmt.Sprintf("root element namespace %q does not match schema namespace %q", root.name.Space, s.TargetNamespace))
	}

	typeName, ok := s.roots[root.name.Local]
	if !ok {
		return append(warnings, fmt.Sprintf("root element %q is not declared in schema %s", root.name.Local, s.Name))
	}

	s.validateNode(root, typeName, root.name.Local, &warnings)
	return warnings
}

func (s *Schema) validateNode(n *node, typeName, at string, warnings *[]string) {
	model, ok := s.types[typeName]
	if !ok {
		return
	}

	seen := make(map[string]bool, len(n.children))
	for _, child := range n.children {
		name := child.name.Local
		seen[name] = true

		decl, ok := model.children[name]
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("unexpected element %q in %s", name, at))
			continue
		}
		s.validateNode(child, decl.typeName, at+"/"+name, warnings)
	}

	for _, name := range sortedKeys(model.children) {
		if model.children[name].required && !seen[name] {
			*warnings = append(*warnings, fmt.Sprintf("missing required element %q in %s", name, at))
		}
	}

	for _, name := range sortedKeys(model.attrs) {
		if !model.attrs[name] {
			continue
		}
		if _, ok := n.attr(name); !ok {
			*warnings = append(*warnings, fmt.Sprintf("missing required attribute %q on %s", name, at))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
