package network

import (
	"errors"
	"fmt"
)

// ErrInvalidNetwork matches every *ValidationError through errors.Is.
var ErrInvalidNetwork = errors.New("invalid network")

type Kind string

const (
	KindEmpty        Kind = "empty"
	KindBaseMVA      Kind = "base_mva"
	KindBusID        Kind = "bus_id"
	KindDuplicateBus Kind = "duplicate_bus"
	KindBusType      Kind = "bus_type"
	KindSlackCount   Kind = "slack_count"
	KindValue        Kind = "value"
	KindUnknownBus   Kind = "unknown_bus"
	KindSelfLoop     Kind = "self_loop"
	KindReactance    Kind = "reactance"
	KindDisconnected Kind = "disconnected"
)

// ValidationError names the invariant a case violates.
type ValidationError struct {
	Kind Kind
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidNetwork, e.Kind, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidNetwork
}

func invalid(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
