package domain

import (
	"strings"
)

// Parameters is the namelist-shaped input tree of a pw.x calculation:
// NAMELIST -> variable -> value. Namelist names are upper case, variable
// names lower case.
type Parameters map[string]map[string]any

const (
	NamelistControl   = "CONTROL"
	NamelistSystem    = "SYSTEM"
	NamelistElectrons = "ELECTRONS"
	NamelistIons      = "IONS"
	NamelistCell      = "CELL"
)

// Clone returns a deep copy with normalized namelist and variable names.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for namelist, vars := range p {
		for key, value := range vars {
			out.Set(namelist, key, cloneValue(value))
		}
		if _, ok := out[strings.ToUpper(namelist)]; !ok {
			out[strings.ToUpper(namelist)] = map[string]any{}
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []string:
		return append([]string(nil), t...)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	default:
		return v
	}
}

func (p Parameters) Get(namelist, key string) (any, bool) {
	vars, ok := p[strings.ToUpper(namelist)]
	if !ok {
		return nil, false
	}
	v, ok := vars[strings.ToLower(key)]
	return v, ok
}

func (p Parameters) Set(namelist, key string, value any) {
	namelist = strings.ToUpper(namelist)
	vars, ok := p[namelist]
	if !ok {
		vars = map[string]any{}
		p[namelist] = vars
	}
	vars[strings.ToLower(key)] = value
}

// String returns the variable as a string, or def when unset or not a string.
func (p Parameters) String(namelist, key, def string) string {
	v, ok := p.Get(namelist, key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Int returns the variable as an int. Numbers decoded from JSON or YAML
// arrive as float64 or int64 and are accepted too.
func (p Parameters) Int(namelist, key string) (int, bool) {
	v, ok := p.Get(namelist, key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}
