package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds.
var (
	ErrUsage            = errors.New("usage error")
	ErrRelayUnavailable = errors.New("relay unavailable")
	ErrNegotiationState = errors.New("negotiation state error")
	ErrEndpointFailure  = errors.New("endpoint failure")
	ErrCallTimedOut     = errors.New("call timed out")
)

var (
	ErrCallNotFound        = &refinedError{kind: ErrUsage, msg: "call not found"}
	ErrCallNotReady        = &refinedError{kind: ErrUsage, msg: "call not ready"}
	ErrCallAlreadyAnswered = &refinedError{kind: ErrNegotiationState, msg: "call already answered"}
	ErrAlreadyJoined       = &refinedError{kind: ErrNegotiationState, msg: "call already joined"}
	ErrHungUp              = &refinedError{kind: ErrNegotiationState, msg: "call hung up"}

	// ErrDocumentNotFound is returned by relay adapters for writes to a missing parent.
	ErrDocumentNotFound = errors.New("document not found")
)

type refinedError struct {
	kind error
	msg  string
}

func (e *refinedError) Error() string { return e.msg }
func (e *refinedError) Unwrap() error { return e.kind }

// OpError records the operation that failed and the kind of failure.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool {
	return target == e.Kind || errors.Is(e.Kind, target)
}

func RelayError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: ErrRelayUnavailable, Op: op, Err: err}
}

func EndpointError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: ErrEndpointFailure, Op: op, Err: err}
}
