// Package pipeline implements the dataflow-graph runtime: typed ports,
// type-checked connections with configuration propagation, a worker
// goroutine per input, and a five-phase pipeline driver.
package pipeline

import "fmt"

// ConnectErrorKind distinguishes the fatal build-up failures that can
// occur when wiring an output port to an input port.
type ConnectErrorKind int

const (
	// TypeMismatch means the output's payload type is not a subtype of
	// the input's declared type.
	TypeMismatch ConnectErrorKind = iota
	// WrongDirection means a relay or connect call was attempted with
	// a port facing the wrong way (an input used where an output was
	// expected, or vice versa).
	WrongDirection
	// SelfLoop means the output and input belong to the same module.
	SelfLoop
)

func (k ConnectErrorKind) String() string {
	switch k {
	case TypeMismatch:
		return "type mismatch"
	case WrongDirection:
		return "wrong direction"
	case SelfLoop:
		return "self-loop"
	default:
		return "unknown"
	}
}

// ConnectError reports a fatal build-up failure from Connect or Relay.
type ConnectError struct {
	Kind   ConnectErrorKind
	Output string
	Input  string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s -> %s: %s", e.Output, e.Input, e.Kind)
}

// ConfigErrorKind distinguishes configuration failures.
type ConfigErrorKind int

const (
	// UnknownParameter means a parameter name was not registered on the
	// module being configured.
	UnknownParameter ConfigErrorKind = iota
	// TypeMismatchConfig means a parameter was set with a value whose
	// type does not match its declared type.
	TypeMismatchConfig
	// RequiredUnset means a required parameter had no value at
	// pre-start time.
	RequiredUnset
)

func (k ConfigErrorKind) String() string {
	switch k {
	case UnknownParameter:
		return "unknown parameter"
	case TypeMismatchConfig:
		return "type mismatch"
	case RequiredUnset:
		return "required parameter unset"
	default:
		return "unknown"
	}
}

// ConfigError reports a parameter configuration failure.
type ConfigError struct {
	Kind   ConfigErrorKind
	Module string
	Param  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configure %s.%s: %s", e.Module, e.Param, e.Kind)
}

// StartupError reports a fatal failure during build-up or pre-start
// validation: an input without a handler or an unset required
// parameter. An unconnected input is only logged and never produces a
// StartupError.
type StartupError struct {
	Module string
	Reason string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %s", e.Module, e.Reason)
}
