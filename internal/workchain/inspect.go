package workchain

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
)

type DecisionKind int

const (
	// DecisionContinue launches another attempt with unchanged inputs,
	// possibly restarting from the previous attempt.
	DecisionContinue DecisionKind = iota
	// DecisionContinueMutated launches another attempt after the classifier
	// corrected the inputs.
	DecisionContinueMutated
	DecisionFinished
	DecisionAbort
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionContinue:
		return "continue"
	case DecisionContinueMutated:
		return "continue_mutated"
	case DecisionFinished:
		return "finished"
	case DecisionAbort:
		return "abort"
	}
	return "unknown"
}

// Decision is the outcome of inspecting one attempt. Err is an *AbortError
// when Kind is DecisionAbort.
type Decision struct {
	Kind DecisionKind
	Err  error
}

func proceed() Decision { return Decision{Kind: DecisionContinue} }

func proceedMutated() Decision { return Decision{Kind: DecisionContinueMutated} }

func abortWith(err *AbortError) Decision { return Decision{Kind: DecisionAbort, Err: err} }

// inspect classifies the terminal state of the attempt that just completed
// and updates rc for the next iteration.
func (c *Controller) inspect(ctx context.Context, rc *RestartContext, a *domain.Attempt) Decision {
	logger := c.logger.With("iteration", rc.iteration, "state", a.State)

	switch {
	case a.FinishedOK():
		logger.InfoContext(ctx, "converged successfully", "iterations", rc.iteration)
		rc.restartSource = a
		rc.finished = true
		return Decision{Kind: DecisionFinished}

	case rc.iteration >= rc.maxIterations:
		logger.WarnContext(ctx, "reached the maximum number of iterations", "max_iterations", rc.maxIterations)
		return abortWith(abort(domain.ErrMaxIterationsExceeded, a.Index, "last attempt #%d ended in state %s", a.Index, a.State))

	case !expectedState(a.State):
		return abortWith(abort(domain.ErrUnexpectedCalculationState, a.Index, "unexpected state %q of attempt #%d", a.State, a.Index))

	case a.State == domain.CalcStateSubmissionFailed:
		if rc.submissionFailure {
			return abortWith(abort(domain.ErrRepeatedSubmissionFailure, a.Index, "submission of attempt #%d failed", a.Index))
		}
		logger.WarnContext(ctx, "submission failed, restarting once more")
		rc.submissionFailure = true
		rc.restartSource = nil
		return proceed()
	}

	// FINISHED (not converged) or FAILED: the attempt was at least submitted.
	rc.submissionFailure = false
	c.sanityCheck(ctx, a)

	if a.State == domain.CalcStateFailed {
		return c.handleFailure(ctx, rc, a)
	}

	logger.InfoContext(ctx, "calculation did not converge, restarting from it")
	rc.unexpectedFailure = false
	rc.restartSource = a
	return proceed()
}

func expectedState(s domain.CalcState) bool {
	switch s {
	case domain.CalcStateFinished, domain.CalcStateFailed, domain.CalcStateSubmissionFailed:
		return true
	}
	return false
}

// sanityCheck looks for problems the runner does not report through the
// terminal state. It only logs.
func (c *Controller) sanityCheck(ctx context.Context, a *domain.Attempt) {
	out := a.Outputs.Parameters
	if out == nil {
		c.logger.WarnContext(ctx, "attempt has no output parameters", "iteration", a.Index)
		return
	}
	if a.State == domain.CalcStateFinished && out.XML == nil {
		c.logger.WarnContext(ctx, "attempt finished without a decoded XML record", "iteration", a.Index)
	}
	if len(out.ParserWarnings) > 0 {
		c.logger.InfoContext(ctx, "attempt reported parser warnings", "iteration", a.Index, "parser_warnings", out.ParserWarnings)
	}
}

// handleFailure runs the classifier on a failed attempt and applies its
// verdict. Handled failures neither consume nor restore the allowance for
// unexplained ones; only an unconverged finish restores it.
func (c *Controller) handleFailure(ctx context.Context, rc *RestartContext, a *domain.Attempt) Decision {
	outcome := Classify(a)
	metrics.FailuresClassifiedTotal.WithLabelValues(outcome.Action.String()).Inc()
	logger := c.logger.With("iteration", a.Index, "rule", outcome.Rule)

	switch outcome.Action {
	case ActionInvalidInput:
		return abortWith(abort(domain.ErrInvalidInputFile, a.Index, "attempt #%d could not read its input file", a.Index))

	case ActionSwitchDiagonalization:
		rc.inputs.Parameters.Set(domain.NamelistElectrons, "diagonalization", DiagonalizationCG)
		logger.InfoContext(ctx, "diagonalization failed, switching scheme", "from", outcome.Diagonalization, "to", DiagonalizationCG)
		return proceedMutated()

	case ActionReduceMaxSeconds:
		maxSeconds, ok := c.maxSecondsOf(rc, a)
		if !ok {
			return c.unexpected(ctx, rc, a, fmt.Errorf("%w: premature termination without max_seconds", domain.ErrUnexpectedFailure))
		}
		reduced := int(0.95 * float64(maxSeconds))
		rc.inputs.Parameters.Set(domain.NamelistControl, "max_seconds", reduced)
		logger.InfoContext(ctx, "terminated prematurely, reducing max_seconds", "from", maxSeconds, "to", reduced)
		return proceedMutated()

	case ActionRestartFromAttempt:
		rc.restartSource = a
		logger.InfoContext(ctx, "maximum wall time exceeded, restarting from attempt")
		return proceed()

	default:
		return c.unexpected(ctx, rc, a, fmt.Errorf("%w: attempt #%d (%s)", domain.ErrUnexpectedFailure, a.Index, outcome.Rule))
	}
}

// maxSecondsOf prefers the max_seconds setting over the CONTROL variable the
// failed attempt ran with.
func (c *Controller) maxSecondsOf(rc *RestartContext, a *domain.Attempt) (int, bool) {
	if s := rc.inputs.Settings.MaxSeconds; s > 0 {
		return s, true
	}
	return a.Inputs.Parameters.Int(domain.NamelistControl, "max_seconds")
}

func (c *Controller) unexpected(ctx context.Context, rc *RestartContext, a *domain.Attempt, cause error) Decision {
	if rc.unexpectedFailure {
		return abortWith(abort(domain.ErrRepeatedUnexpectedFailure, a.Index, "%v", cause))
	}
	c.logger.WarnContext(ctx, "attempt failed for an unknown reason, restarting once more", "iteration", a.Index, "error", cause)
	rc.unexpectedFailure = true
	return proceed()
}
