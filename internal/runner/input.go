package runner

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
)

const (
	inputFile  = "aiida.in"
	outputFile = "aiida.out"
	prefix     = "aiida"
	outDir     = "out"
)

// Variables the runner owns. Values given by the user are replaced.
var reserved = map[string]map[string]bool{
	domain.NamelistControl: {"prefix": true, "outdir": true, "pseudo_dir": true},
	domain.NamelistSystem:  {"ibrav": true, "nat": true, "ntyp": true, "celldm": true, "a": true},
}

// Calculation types that move ions, and those that also change the cell.
var (
	ionicCalculations = map[string]bool{"relax": true, "md": true, "vc-relax": true, "vc-md": true}
	cellCalculations  = map[string]bool{"vc-relax": true, "vc-md": true}
)

// WriteInput renders the pw.x input file for in. Positions and the cell are
// written in angstrom; pseudoDir is where the UPF files live.
func WriteInput(w io.Writer, in domain.CalcInputs, pseudoDir string) error {
	if in.Structure == nil {
		return fmt.Errorf("write input: %w: no structure", domain.ErrInvalidInputs)
	}
	s := in.Structure
	kinds := s.KindNames()

	params := in.Parameters.Clone()
	for namelist, keys := range reserved {
		for key := range keys {
			delete(params[namelist], key)
		}
	}
	params.Set(domain.NamelistControl, "prefix", prefix)
	params.Set(domain.NamelistControl, "outdir", "./"+outDir+"/")
	params.Set(domain.NamelistControl, "pseudo_dir", pseudoDir)
	params.Set(domain.NamelistSystem, "ibrav", 0)
	params.Set(domain.NamelistSystem, "nat", len(s.Sites))
	params.Set(domain.NamelistSystem, "ntyp", len(kinds))

	calc := params.String(domain.NamelistControl, "calculation", "scf")
	namelists := []string{domain.NamelistControl, domain.NamelistSystem, domain.NamelistElectrons}
	if ionicCalculations[calc] {
		namelists = append(namelists, domain.NamelistIons)
	}
	if cellCalculations[calc] {
		namelists = append(namelists, domain.NamelistCell)
	}

	bw := bufio.NewWriter(w)
	for _, nl := range namelists {
		fmt.Fprintf(bw, "&%s\n", nl)
		vars := params[nl]
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writeVariable(bw, k, vars[k], kinds); err != nil {
				return fmt.Errorf("write input: %s.%s: %w", nl, k, err)
			}
		}
		fmt.Fprintln(bw, "/")
	}

	fmt.Fprintln(bw, "ATOMIC_SPECIES")
	for _, name := range kinds {
		k, _ := s.Kind(name)
		p := in.Pseudos[name]
		fmt.Fprintf(bw, "%s %s %s\n", name, formatReal(k.Mass), p.Filename)
	}

	fmt.Fprintln(bw, "ATOMIC_POSITIONS angstrom")
	for _, site := range s.Sites {
		fmt.Fprintf(bw, "%s %.10f %.10f %.10f\n", site.KindName, site.Position[0], site.Position[1], site.Position[2])
	}

	if in.KPoints.IsMesh() {
		fmt.Fprintln(bw, "K_POINTS automatic")
		m, o := in.KPoints.Mesh, in.KPoints.Offset
		fmt.Fprintf(bw, "%d %d %d %d %d %d\n", m[0], m[1], m[2], offsetFlag(o[0]), offsetFlag(o[1]), offsetFlag(o[2]))
	} else {
		fmt.Fprintln(bw, "K_POINTS crystal")
		fmt.Fprintf(bw, "%d\n", len(in.KPoints.List))
		for i, k := range in.KPoints.List {
			w := 1.0
			if i < len(in.KPoints.Weights) {
				w = in.KPoints.Weights[i]
			}
			fmt.Fprintf(bw, "%.10f %.10f %.10f %s\n", k[0], k[1], k[2], formatReal(w))
		}
	}

	fmt.Fprintln(bw, "CELL_PARAMETERS angstrom")
	for _, v := range s.Cell {
		fmt.Fprintf(bw, "%.10f %.10f %.10f\n", v[0], v[1], v[2])
	}
	return bw.Flush()
}

// offsetFlag converts a mesh offset in units of the mesh step (0 or 0.5)
// to the pw.x 0/1 flag.
func offsetFlag(o float64) int {
	if o != 0 {
		return 1
	}
	return 0
}

// writeVariable writes scalars as "key = value", lists as "key(i) = value"
// and per-kind maps as "key(kind index) = value".
func writeVariable(w io.Writer, key string, value any, kinds []string) error {
	switch v := value.(type) {
	case []any:
		for i, item := range v {
			s, err := formatValue(item)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  %s(%d) = %s\n", key, i+1, s)
		}
		return nil
	case []float64:
		for i, item := range v {
			fmt.Fprintf(w, "  %s(%d) = %s\n", key, i+1, formatReal(item))
		}
		return nil
	case map[string]any:
		for i, kind := range kinds {
			item, ok := v[kind]
			if !ok {
				continue
			}
			s, err := formatValue(item)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  %s(%d) = %s\n", key, i+1, s)
		}
		return nil
	}

	s, err := formatValue(value)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s = %s\n", key, s)
	return nil
}

func formatValue(v any) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return ".true.", nil
		}
		return ".false.", nil
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case float64:
		return formatReal(t), nil
	case float32:
		return formatReal(float64(t)), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
