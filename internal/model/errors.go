package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Callers branch on them with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("claim not found")
	ErrDuplicateID       = errors.New("duplicate claim id")
	ErrImmutable         = errors.New("immutable")
	ErrStaleRevision     = errors.New("stale revision")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrUnknownTarget     = errors.New("unknown target")
	ErrDuplicateEdge     = errors.New("duplicate edge")
	ErrWouldCreateCycle  = errors.New("would create cycle")
	ErrAlreadySuperseded = errors.New("already superseded")
	ErrBlocked           = errors.New("blocked")
	ErrAmbiguous         = errors.New("ambiguous")
	ErrNoCanonical       = errors.New("no canonical claim")
)

// LedgerError wraps one of the error kinds with a human-readable message
type LedgerError struct {
	Kind error
	Msg  string
}

func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *LedgerError) Unwrap() error { return e.Kind }

// Errorf builds a LedgerError of the given kind
func Errorf(kind error, format string, args ...any) error {
	return &LedgerError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Blocking reasons returned by the promotion gate
const (
	ReasonStopCondition            = "stop_condition"
	ReasonNotAPromotion            = "not_a_promotion"
	ReasonContradiction            = "contradiction"
	ReasonInsufficientSignificance = "insufficient_significance"
	ReasonInactive                 = "inactive"
)

// BlockedError is an informational refusal: callers are expected to branch on Reason
type BlockedError struct {
	ClaimID ClaimID
	Reason  string
	Detail  string
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("blocked(%s)", e.Reason)
	if e.ClaimID != "" {
		msg = fmt.Sprintf("%s: %s", e.ClaimID, msg)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// Blocked builds a BlockedError
func Blocked(id ClaimID, reason, detail string) error {
	return &BlockedError{ClaimID: id, Reason: reason, Detail: detail}
}

// AmbiguousError reports several un-superseded tips for one topic
type AmbiguousError struct {
	Topic      string
	Candidates []ClaimID
}

func (e *AmbiguousError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = string(c)
	}
	return fmt.Sprintf("ambiguous(%s): %d canonical candidates [%s]", e.Topic, len(ids), strings.Join(ids, ", "))
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguous }

// BlockedReason extracts the gate reason from err, if any
func BlockedReason(err error) (string, bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.Reason, true
	}
	return "", false
}

// IsNotFound reports whether err is a missing-claim error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
