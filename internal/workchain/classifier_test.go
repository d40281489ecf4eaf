package workchain_test

import (
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/workchain"
)

func failedAttempt(diag string, warnings, parserWarnings []string) *domain.Attempt {
	params := domain.Parameters{}
	if diag != "" {
		params.Set(domain.NamelistElectrons, "diagonalization", diag)
	}
	return &domain.Attempt{
		Index:  1,
		Inputs: domain.CalcInputs{Parameters: params},
		State:  domain.CalcStateFailed,
		Outputs: domain.CalcOutputs{
			Parameters: &domain.OutputParameters{Warnings: warnings, ParserWarnings: parserWarnings},
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		diag           string
		warnings       []string
		parserWarnings []string
		want           workchain.Action
	}{
		{
			name:     "invalid input file",
			warnings: []string{"Error in routine read_namelists (1):"},
			want:     workchain.ActionInvalidInput,
		},
		{
			name:     "bands not converged with default scheme",
			warnings: []string{"c_bands: too many bands are not converged"},
			want:     workchain.ActionSwitchDiagonalization,
		},
		{
			name:     "eigenvalues not converged with explicit david",
			diag:     "david",
			warnings: []string{"c_bands:  2 eigenvalues not converged"},
			want:     workchain.ActionSwitchDiagonalization,
		},
		{
			name:     "diagonalization failure with cg already",
			diag:     "cg",
			warnings: []string{"c_bands: too many bands are not converged"},
			want:     workchain.ActionUnexpected,
		},
		{
			name:     "diagonalization wins over generic error",
			warnings: []string{"too many bands are not converged", "Error in routine cdiaghg"},
			want:     workchain.ActionSwitchDiagonalization,
		},
		{
			name:     "invalid input wins over diagonalization",
			warnings: []string{"too many bands are not converged", "read_namelists"},
			want:     workchain.ActionInvalidInput,
		},
		{
			name:     "fortran error marker",
			warnings: []string{"%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%%"},
			want:     workchain.ActionUnexpected,
		},
		{
			name:           "generic error wins over premature termination",
			warnings:       []string{"Error in routine electrons"},
			parserWarnings: []string{workchain.MarkerIncompleteExecution},
			want:           workchain.ActionUnexpected,
		},
		{
			name:           "premature termination",
			parserWarnings: []string{workchain.MarkerIncompleteExecution},
			want:           workchain.ActionReduceMaxSeconds,
		},
		{
			name:           "premature termination wins over max walltime",
			warnings:       []string{workchain.MarkerMaxCPUTime},
			parserWarnings: []string{workchain.MarkerIncompleteExecution},
			want:           workchain.ActionReduceMaxSeconds,
		},
		{
			name:     "max walltime",
			warnings: []string{workchain.MarkerMaxCPUTime},
			want:     workchain.ActionRestartFromAttempt,
		},
		{
			name:     "nothing recognizable",
			warnings: []string{"DEPRECATED: symmetry with ibrav=0, use correct ibrav instead"},
			want:     workchain.ActionUnexpected,
		},
		{
			name: "no warnings",
			want: workchain.ActionUnexpected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := workchain.Classify(failedAttempt(tt.diag, tt.warnings, tt.parserWarnings))
			if got.Action != tt.want {
				t.Errorf("action = %s (rule %s), want %s", got.Action, got.Rule, tt.want)
			}
		})
	}
}

func TestClassify_MissingOutputParameters(t *testing.T) {
	a := failedAttempt("", nil, nil)
	a.Outputs.Parameters = nil

	if got := workchain.Classify(a); got.Action != workchain.ActionUnexpected {
		t.Errorf("action = %s, want unexpected", got.Action)
	}
}

func TestClassify_ReportsDiagonalization(t *testing.T) {
	got := workchain.Classify(failedAttempt("", []string{"eigenvalues not converged"}, nil))
	if got.Diagonalization != workchain.DefaultDiagonalization {
		t.Errorf("diagonalization = %q, want %q", got.Diagonalization, workchain.DefaultDiagonalization)
	}
}
