package workchain

import (
	"github.com/ErlanBelekov/pwchain/internal/domain"
)

// RestartContext is the state of one workchain run. It is owned by a single
// Run call and never shared.
type RestartContext struct {
	// inputs is the template of the next attempt. Parameters is mutated by
	// the failure handlers between attempts.
	inputs       domain.CalcInputs
	parentFolder *domain.RemoteFolder

	maxIterations int
	iteration     int
	attempts      []*domain.Attempt

	// restartSource is the attempt the next one continues from.
	restartSource *domain.Attempt

	submissionFailure bool
	unexpectedFailure bool
	finished          bool
}

func newRestartContext(inputs domain.CalcInputs, parent *domain.RemoteFolder, maxIterations int) *RestartContext {
	if maxIterations <= 0 {
		maxIterations = domain.DefaultMaxIterations
	}
	return &RestartContext{
		inputs:        inputs,
		parentFolder:  parent,
		maxIterations: maxIterations,
	}
}

func (rc *RestartContext) shouldRun() bool {
	return !rc.finished && rc.iteration < rc.maxIterations
}

// next advances the iteration counter and builds the inputs of the attempt
// about to be launched.
func (rc *RestartContext) next() (domain.CalcInputs, string) {
	rc.iteration++

	in := rc.inputs
	in.Parameters = rc.inputs.Parameters.Clone()
	in.Settings = rc.inputs.Settings.Clone()
	in.ParentFolder = nil

	mode := domain.RestartModeFromScratch
	switch {
	case rc.iteration == 1 && rc.parentFolder != nil:
		mode = domain.RestartModeRestart
		parent := *rc.parentFolder
		in.ParentFolder = &parent
	case rc.restartSource != nil && rc.restartSource.Outputs.RemoteFolder != nil:
		mode = domain.RestartModeRestart
		parent := *rc.restartSource.Outputs.RemoteFolder
		in.ParentFolder = &parent
	}
	in.Parameters.Set(domain.NamelistControl, "restart_mode", mode)
	return in, mode
}

// Iteration is the number of attempts launched so far.
func (rc *RestartContext) Iteration() int { return rc.iteration }

// Attempts returns the attempts launched so far, oldest first.
func (rc *RestartContext) Attempts() []*domain.Attempt { return rc.attempts }

func (rc *RestartContext) last() *domain.Attempt {
	if len(rc.attempts) == 0 {
		return nil
	}
	return rc.attempts[len(rc.attempts)-1]
}
