package runner

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/workchain"
)

const markerJobDone = "JOB DONE."

// Lines of the pw.x output that are kept as warnings. pw.x reports the CPU
// limit with varying wording, so that one is normalized.
var warningMarkers = []string{
	"Error",
	"%%%",
	"read_namelists",
	"too many bands are not converged",
	"eigenvalues not converged",
	"convergence NOT achieved",
	"Warning:",
	"DEPRECATED",
}

// Lines that mark a finished attempt as converged, per calculation type.
var convergenceMarkers = map[string]string{
	"scf":      "convergence has been achieved",
	"nscf":     "End of band structure calculation",
	"bands":    "End of band structure calculation",
	"relax":    "bfgs converged",
	"vc-relax": "bfgs converged",
	"md":       "End of molecular dynamics calculation",
	"vc-md":    "End of molecular dynamics calculation",
}

var wallTimeRe = regexp.MustCompile(`PWSCF\s*:.*?([0-9.]+)s\s+WALL`)

type outputScan struct {
	warnings  []string
	jobDone   bool
	converged bool
	notConv   bool
	errored   bool
	cpuLimit  bool
	wallTime  float64
}

// failed reports whether the output carries a marker that makes the attempt
// a failure even though pw.x reached its end.
func (s outputScan) failed() bool {
	return s.errored || s.cpuLimit
}

func scanOutput(r io.Reader, calculation string) (outputScan, error) {
	s := outputScan{warnings: []string{}}
	want, ok := convergenceMarkers[calculation]
	if !ok {
		want = convergenceMarkers["scf"]
	}

	seen := make(map[string]bool)
	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			s.warnings = append(s.warnings, w)
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.Contains(line, markerJobDone):
			s.jobDone = true
			continue
		case strings.Contains(line, want):
			s.converged = true
		case strings.Contains(line, "Maximum CPU time exceeded"):
			s.cpuLimit = true
			add(workchain.MarkerMaxCPUTime)
			continue
		}
		if m := wallTimeRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				s.wallTime = v
			}
		}
		for _, marker := range warningMarkers {
			if strings.Contains(line, marker) {
				add(line)
				if marker == "Error" || marker == "%%%" || marker == "read_namelists" {
					s.errored = true
				}
				if marker == "convergence NOT achieved" {
					s.notConv = true
				}
				break
			}
		}
	}
	if err := sc.Err(); err != nil {
		return s, err
	}
	s.converged = s.converged && !s.notConv
	return s, nil
}
