package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable reports that the hub could not be contacted or refused the round.
	ErrUnreachable = errors.New("replication: hub unreachable")
	// ErrMalformedExchange reports a request or response that cannot be applied as a whole.
	ErrMalformedExchange = errors.New("replication: malformed exchange")
	// ErrResponseTooLarge reports a hub answer above the transport's size limit.
	ErrResponseTooLarge = errors.New("replication: response exceeds size limit")
	// ErrRoundInProgress reports a trigger that arrived while a round was running.
	ErrRoundInProgress = errors.New("replication: round already in progress")

	errMissingStore     = errors.New("store is required")
	errMissingTransport = errors.New("transport is required")
	errMissingPeer      = errors.New("peer name is required")
)

const (
	opIngest      = "replication.ingest"
	opRound       = "replication.round"
	opImport      = "replication.import"
	opExport      = "replication.export"
	opStatus      = "replication.status"
	opApplyEntity = "replication.apply_entity"
)

// RoundError ties a failure to the round phase it happened in.
type RoundError struct {
	Phase string
	Err   error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("%s: %s: %v", opRound, e.Phase, e.Err)
}

func (e *RoundError) Unwrap() error {
	return e.Err
}

func roundError(phase string, cause error) error {
	return &RoundError{Phase: phase, Err: cause}
}
