package workchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// validatePseudos picks the explicit pseudos when given, the family
// otherwise, and checks that every kind of the structure has a UPF entry.
func (c *Controller) validatePseudos(ctx context.Context, in domain.WorkchainInputs) (map[string]domain.Pseudo, error) {
	var pseudos map[string]domain.Pseudo
	switch {
	case len(in.Pseudos) > 0:
		if in.PseudoFamily != "" {
			c.logger.InfoContext(ctx, "both explicit pseudos and a pseudo family were given, using explicit pseudos")
		}
		pseudos = in.Pseudos
	case in.PseudoFamily != "":
		if c.families == nil {
			return nil, abort(domain.ErrMissingPseudopotential, 0, "pseudo family %q given but no family resolver is configured", in.PseudoFamily)
		}
		fromFamily, err := c.families.PseudosForStructure(ctx, in.PseudoFamily, &in.Structure)
		if err != nil {
			return nil, abort(domain.ErrMissingPseudopotential, 0, "pseudo family %q: %v", in.PseudoFamily, err)
		}
		pseudos = fromFamily
	default:
		return nil, abort(domain.ErrMissingPseudopotential, 0, "neither explicit pseudos nor a pseudo family was given")
	}

	out := make(map[string]domain.Pseudo, len(pseudos))
	for _, kind := range in.Structure.KindNames() {
		p, ok := pseudos[kind]
		if !ok {
			return nil, abort(domain.ErrMissingPseudopotential, 0, "no pseudo available for kind %s", kind)
		}
		if !strings.EqualFold(p.Format, domain.PseudoFormatUPF) {
			return nil, abort(domain.ErrInvalidPseudopotentialType, 0, "pseudo for kind %s has format %q", kind, p.Format)
		}
		out[kind] = p
	}
	return out, nil
}

// StaticFamilies is a PseudoFamilyResolver over an in-memory table of
// family name -> element symbol -> pseudo.
type StaticFamilies map[string]map[string]domain.Pseudo

func (f StaticFamilies) PseudosForStructure(_ context.Context, family string, s *domain.Structure) (map[string]domain.Pseudo, error) {
	table, ok := f[family]
	if !ok {
		return nil, fmt.Errorf("unknown pseudo family %q", family)
	}
	out := make(map[string]domain.Pseudo)
	for _, kind := range s.KindNames() {
		symbol := domain.SymbolFromKindName(kind)
		if k, ok := s.Kind(kind); ok && k.Symbol != "" {
			symbol = k.Symbol
		}
		if p, ok := table[symbol]; ok {
			out[kind] = p
		}
	}
	return out, nil
}

// LoadFamilies reads a pseudo family table from a YAML file of the form
//
//	sssp:
//	  Si: {element: Si, filename: Si.pbe-n-rrkjus_psl.1.0.0.UPF, format: upf}
//
// Entries without an element take it from their key.
func LoadFamilies(fs afero.Fs, path string) (StaticFamilies, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read pseudo families: %w", err)
	}
	var families StaticFamilies
	if err := yaml.Unmarshal(raw, &families); err != nil {
		return nil, fmt.Errorf("parse pseudo families %s: %w", path, err)
	}
	for name, table := range families {
		for symbol, p := range table {
			if p.Filename == "" {
				return nil, fmt.Errorf("pseudo family %s: %s has no filename", name, symbol)
			}
			if p.Element == "" {
				p.Element = symbol
				table[symbol] = p
			}
		}
	}
	return families, nil
}
