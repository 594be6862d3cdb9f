package dataset

import (
	"errors"
	"fmt"
)

// ErrEmptyCollection is returned when an analysis receives zero records.
var ErrEmptyCollection = errors.New("empty record collection")

// InsufficientDataError indicates too few usable rows, or a missing attribute.
type InsufficientDataError struct {
	Reason string
	Rows   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("insufficient data: %s (%d usable rows, need %d)", e.Reason, e.Rows, e.Need)
	}
	return fmt.Sprintf("insufficient data: %s", e.Reason)
}

// InsufficientFeaturesError indicates too few usable numeric columns.
type InsufficientFeaturesError struct {
	Usable int
	Need   int
}

func (e *InsufficientFeaturesError) Error() string {
	return fmt.Sprintf("insufficient features: %d usable numeric columns, need %d", e.Usable, e.Need)
}

// InvalidParameterError indicates an unknown option or an out-of-range value.
type InvalidParameterError struct {
	Param  string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Param, e.Value, e.Reason)
}

// CandidateFitError records a failure confined to one candidate of an ensemble.
// It is carried inline in results, never returned from an analysis call.
type CandidateFitError struct {
	Candidate string
	TimedOut  bool
	Err       error
}

func (e *CandidateFitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out: %v", e.Candidate, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Candidate, e.Err)
}

func (e *CandidateFitError) Unwrap() error { return e.Err }

// MarshalText lets results carry the failure as a plain message in JSON.
func (e *CandidateFitError) MarshalText() ([]byte, error) { return []byte(e.Error()), nil }

// IsFatal reports whether err belongs to the taxonomy that aborts a whole analysis.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyCollection) {
		return true
	}
	var ide *InsufficientDataError
	var ife *InsufficientFeaturesError
	var ipe *InvalidParameterError
	return errors.As(err, &ide) || errors.As(err, &ife) || errors.As(err, &ipe)
}
