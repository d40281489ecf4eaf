package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWorkchainNotFound   = errors.New("workchain not found")
	ErrWorkchainNotRunning = errors.New("workchain is no longer running")
	ErrInvalidStatus       = errors.New("invalid status filter")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrInvalidInputs       = errors.New("invalid workchain inputs")
)

// Workchain abort reasons. Every abort is fatal and never retried.
var (
	ErrMissingPseudopotential     = errors.New("no pseudopotential available for kind")
	ErrInvalidPseudopotentialType = errors.New("pseudopotential is not of type UPF")
	ErrMaxIterationsExceeded      = errors.New("reached the maximum number of iterations")
	ErrUnexpectedCalculationState = errors.New("unexpected calculation state")
	ErrRepeatedSubmissionFailure  = errors.New("submission failed for the second consecutive time")
	ErrRepeatedUnexpectedFailure  = errors.New("calculation failed for an unknown reason for the second consecutive time")
	ErrInvalidInputFile           = errors.New("calculation failed because of an invalid input file")
)

// ErrUnexpectedFailure is raised by the failure classifier when no rule can
// handle a failed calculation. It is consumed by the restart loop.
var ErrUnexpectedFailure = errors.New("calculation failed for an unknown reason")

// XML decoding errors.
var (
	ErrDocument                 = errors.New("could not open or parse the XML document")
	ErrSchemaUnavailable        = errors.New("could not open or parse the XSD schema")
	ErrRequiredFieldMissing     = errors.New("required field missing")
	ErrSchemaInvariantViolation = errors.New("schema invariant violated")
	ErrUnknownSymmetryType      = errors.New("unexpected type of symmetry")

	ErrInconsistentBandCount = fmt.Errorf("inconsistent number of bands: %w", ErrSchemaInvariantViolation)
)
