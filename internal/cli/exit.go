package cli

import (
	"errors"

	"github.com/ppiankov/claimledger/internal/model"
)

// Exit statuses
const (
	ExitOK          = 0
	ExitFailure     = 1 // generic failure, or a sweep that found violations
	ExitLedgerError = 2 // validation and other rejected mutations
	ExitCycle       = 3
	ExitAmbiguous   = 4
	ExitBlocked     = 5
)

// errViolations is returned by validate when the sweep is not clean
var errViolations = errors.New("consistency violations found")

var ledgerKinds = []error{
	model.ErrValidation,
	model.ErrNotFound,
	model.ErrDuplicateID,
	model.ErrImmutable,
	model.ErrStaleRevision,
	model.ErrIllegalTransition,
	model.ErrUnknownTarget,
	model.ErrDuplicateEdge,
	model.ErrAlreadySuperseded,
	model.ErrNoCanonical,
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errViolations):
		return ExitFailure
	case errors.Is(err, model.ErrWouldCreateCycle):
		return ExitCycle
	case errors.Is(err, model.ErrAmbiguous):
		return ExitAmbiguous
	case errors.Is(err, model.ErrBlocked):
		return ExitBlocked
	}
	for _, kind := range ledgerKinds {
		if errors.Is(err, kind) {
			return ExitLedgerError
		}
	}
	return ExitFailure
}

// worst picks the error whose exit status ranks highest, cycles before validation
func worst(errs []error) error {
	rank := func(err error) int {
		switch ExitCode(err) {
		case ExitCycle:
			return 3
		case ExitLedgerError:
			return 2
		case ExitFailure:
			return 1
		}
		return 0
	}

	var out error
	for _, err := range errs {
		if err != nil && (out == nil || rank(err) > rank(out)) {
			out = err
		}
	}
	return out
}
