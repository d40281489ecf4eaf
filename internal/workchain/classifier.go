package workchain

import (
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
)

const (
	DiagonalizationDavid = "david"
	DiagonalizationCG    = "cg"

	// DefaultDiagonalization is what pw.x uses when ELECTRONS.diagonalization
	// is not set.
	DefaultDiagonalization = DiagonalizationDavid
)

// Markers pw.x (or the output scan) leaves in the attempt warnings.
const (
	markerReadNamelists       = "read_namelists"
	markerBandsNotConverged   = "too many bands are not converged"
	markerEigenNotConverged   = "eigenvalues not converged"
	markerFortranError        = "%%%"
	markerError               = "Error"
	MarkerIncompleteExecution = "QE pw run did not reach the end of the execution."
	MarkerMaxCPUTime          = "Maximum CPU time exceeded"
)

// Action is what the restart loop should do about a failed attempt.
type Action int

const (
	// ActionUnexpected means no rule could explain the failure.
	ActionUnexpected Action = iota
	ActionInvalidInput
	ActionSwitchDiagonalization
	ActionReduceMaxSeconds
	ActionRestartFromAttempt
)

func (a Action) String() string {
	switch a {
	case ActionInvalidInput:
		return "invalid_input"
	case ActionSwitchDiagonalization:
		return "switch_diagonalization"
	case ActionReduceMaxSeconds:
		return "reduce_max_seconds"
	case ActionRestartFromAttempt:
		return "restart_from_attempt"
	default:
		return "unexpected"
	}
}

// Outcome is the verdict of the classifier for one failed attempt.
type Outcome struct {
	Rule   string
	Action Action
	// Diagonalization is the scheme the failed attempt ran with.
	Diagonalization string
}

type failure struct {
	warnings        []string
	parserWarnings  []string
	diagonalization string
}

func (f failure) anyWarningContains(markers ...string) bool {
	for _, w := range f.warnings {
		for _, m := range markers {
			if strings.Contains(w, m) {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type rule struct {
	name   string
	match  func(f failure) bool
	action Action
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name:   "read_namelists",
		match:  func(f failure) bool { return f.anyWarningContains(markerReadNamelists) },
		action: ActionInvalidInput,
	},
	{
		name: "diagonalization",
		match: func(f failure) bool {
			return f.anyWarningContains(markerBandsNotConverged, markerEigenNotConverged) &&
				f.diagonalization == DefaultDiagonalization
		},
		action: ActionSwitchDiagonalization,
	},
	{
		name:   "unhandled_error",
		match:  func(f failure) bool { return f.anyWarningContains(markerFortranError, markerError) },
		action: ActionUnexpected,
	},
	{
		name:   "premature_termination",
		match:  func(f failure) bool { return contains(f.parserWarnings, MarkerIncompleteExecution) },
		action: ActionReduceMaxSeconds,
	},
	{
		name:   "max_walltime",
		match:  func(f failure) bool { return contains(f.warnings, MarkerMaxCPUTime) },
		action: ActionRestartFromAttempt,
	},
}

// Classify maps the warnings of a failed attempt to the action the restart
// loop should take. An attempt without output parameters is unexpected.
func Classify(a *domain.Attempt) Outcome {
	diag := a.Inputs.Parameters.String(domain.NamelistElectrons, "diagonalization", DefaultDiagonalization)
	out := a.Outputs.Parameters
	if out == nil {
		return Outcome{Rule: "missing_output", Action: ActionUnexpected, Diagonalization: diag}
	}

	f := failure{warnings: out.Warnings, parserWarnings: out.ParserWarnings, diagonalization: diag}
	for _, r := range rules {
		if r.match(f) {
			return Outcome{Rule: r.name, Action: r.action, Diagonalization: diag}
		}
	}
	return Outcome{Rule: "unknown", Action: ActionUnexpected, Diagonalization: diag}
}
