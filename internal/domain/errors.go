package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrClosed         = errors.New("closed")
)

// ValidationError marks errors that make a workflow unloadable. They are
// returned synchronously at load time and never produce an Execution.
type ValidationError interface {
	error
	validation()
}

// AmbiguousReferenceError reports a node name shared by two or more nodes,
// which makes name-based connection references unresolvable.
type AmbiguousReferenceError struct {
	Name    string
	NodeIDs []string
}

func (e *AmbiguousReferenceError) Error() string {
	return fmt.Sprintf("ambiguous node name %q shared by nodes [%s]", e.Name, strings.Join(e.NodeIDs, ", "))
}

func (e *AmbiguousReferenceError) validation() {}

// DanglingReferenceError reports every connection reference that resolved to
// nothing. All problems are collected into one error rather than reported
// one at a time.
type DanglingReferenceError struct {
	References []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("connection references resolve to no node: [%s]", strings.Join(e.References, ", "))
}

func (e *DanglingReferenceError) validation() {}

type UnknownNodeTypeError struct {
	NodeID  string
	Type    NodeType
	Subtype string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("node %s has unknown type (%s, %s)", e.NodeID, e.Type, e.Subtype)
}

func (e *UnknownNodeTypeError) validation() {}

type ParameterError struct {
	NodeID    string
	Parameter string
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("node %s parameter %q: %s", e.NodeID, e.Parameter, e.Reason)
}

func (e *ParameterError) validation() {}

func IsValidationError(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// RunnerError is the structured failure shape captured into a NodeRunRecord.
// Runners must surface real failures through this; a fabricated success in
// place of a failure is never acceptable.
type RunnerError struct {
	Reason        string `json:"reason"`
	Message       string `json:"message"`
	Solution      string `json:"solution,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	Err           error  `json:"-"`
}

const (
	ReasonNetwork           = "network_error"
	ReasonBadResponse       = "bad_response"
	ReasonCredentialMissing = "credential_missing"
	ReasonModelProvider     = "model_provider_error"
	ReasonMemoryBackend     = "memory_backend_error"
	ReasonBadParameters     = "bad_parameters"
	ReasonSuspensionTimeout = "suspension_timeout"
	ReasonCancelled         = "cancelled"
	ReasonInternal          = "internal_error"
)

func (e *RunnerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *RunnerError) Unwrap() error {
	return e.Err
}

func NewRunnerError(reason, message string, cause error) *RunnerError {
	return &RunnerError{
		Reason:  reason,
		Message: message,
		Err:     cause,
	}
}

// AsRunnerError normalizes any failure coming out of a node attempt into the
// structured shape stored on the run record.
func AsRunnerError(err error) *RunnerError {
	if err == nil {
		return nil
	}
	var re *RunnerError
	if errors.As(err, &re) {
		return re
	}
	var st *SuspensionTimeoutError
	if errors.As(err, &st) {
		return &RunnerError{
			Reason:  ReasonSuspensionTimeout,
			Message: st.Error(),
			Err:     st,
		}
	}
	return &RunnerError{
		Reason:  ReasonInternal,
		Message: err.Error(),
		Err:     err,
	}
}

// SuspensionTimeoutError reports a WAIT or HUMAN_IN_THE_LOOP node that
// exceeded its allowed suspension window. Treated as a RunnerError for
// error-policy purposes.
type SuspensionTimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *SuspensionTimeoutError) Error() string {
	return fmt.Sprintf("node %s suspension exceeded %s", e.NodeID, e.Timeout)
}

// CoordinatorInvariantError reports a node that can never become ready.
// Always fatal.
type CoordinatorInvariantError struct {
	NodeID string
	Port   string
}

func (e *CoordinatorInvariantError) Error() string {
	return fmt.Sprintf("node %s can never become ready: input port %q will never receive a value", e.NodeID, e.Port)
}

func IsRunnerError(err error) bool {
	var re *RunnerError
	return errors.As(err, &re)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
