package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the reconstruction pipeline. Data gaps degrade to
// "unknown" values and are not errors; everything else falls into one of
// these kinds so callers can distinguish "no data" from "bad input" from
// "upstream broke".
var (
	// ErrNoData - a required dataset is empty (no snapshots, no bars).
	ErrNoData = errors.New("no data available")

	// ErrContractViolation - input breaks a precondition (unsorted snapshots,
	// negative quantities). The group is rejected, not partially recovered.
	ErrContractViolation = errors.New("contract violation")

	// ErrUpstream - a collaborator failed transiently (timeout, malformed
	// payload). The core treats it as "no data available" for valuation
	// purposes but keeps the kind visible for reporting.
	ErrUpstream = errors.New("upstream failure")
)

// GroupError records a failure for one (instrument, holder) group. Group
// failures are isolated: one group's error never aborts its siblings.
type GroupError struct {
	Pair PairKey
	Err  error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s/%s: %v", e.Pair.InstrumentID, e.Pair.HolderID, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}
