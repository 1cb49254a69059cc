package engine

import "errors"

var (
	// ErrNoCapacity means no eligible reviewer has a free slot. The request keeps
	// its current status and is retried on the next sweep.
	ErrNoCapacity = errors.New("no reviewer capacity")
	// ErrExhausted means redistribution ran out of hops or candidates and the request timed out.
	ErrExhausted = errors.New("redistribution exhausted")
	// ErrInvalidTransition means the request's status does not allow the operation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotAssignee means the acting reviewer does not hold the request.
	ErrNotAssignee = errors.New("reviewer is not the assignee")
)
