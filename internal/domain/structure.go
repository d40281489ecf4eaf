package domain

import (
	"strings"
	"unicode"
)

// Structure is a periodic crystal structure. Lengths are in angstrom.
type Structure struct {
	Cell  [3][3]float64 `json:"cell"  yaml:"cell"`
	Kinds []Kind        `json:"kinds" yaml:"kinds"`
	Sites []Site        `json:"sites" yaml:"sites"`
}

type Kind struct {
	Name   string  `json:"name"   yaml:"name"`
	Symbol string  `json:"symbol" yaml:"symbol"`
	Mass   float64 `json:"mass"   yaml:"mass"`
}

type Site struct {
	KindName string     `json:"kind_name" yaml:"kind_name"`
	Position [3]float64 `json:"position"  yaml:"position"`
}

// KindNames returns the distinct kind names, in declaration order followed by
// any kind only referenced from a site.
func (s *Structure) KindNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, k := range s.Kinds {
		if !seen[k.Name] {
			seen[k.Name] = true
			names = append(names, k.Name)
		}
	}
	for _, site := range s.Sites {
		if !seen[site.KindName] {
			seen[site.KindName] = true
			names = append(names, site.KindName)
		}
	}
	return names
}

// Kind returns the kind with the given name.
func (s *Structure) Kind(name string) (Kind, bool) {
	for _, k := range s.Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

// SymbolFromKindName strips the trailing digits and separators pw.x allows in
// species labels: "Fe1" -> "Fe", "O_up" -> "O".
func SymbolFromKindName(name string) string {
	end := len(name)
	for i, r := range name {
		if i > 0 && !unicode.IsLetter(r) {
			end = i
			break
		}
	}
	sym := name[:end]
	if len(sym) > 2 {
		sym = sym[:2]
	}
	if sym == "" {
		return name
	}
	return strings.ToUpper(sym[:1]) + strings.ToLower(sym[1:])
}
