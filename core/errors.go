package core

import (
	"errors"
	"fmt"
)

// Error codes used by RunError. The set is closed; collaborator failures that
// do not map onto a more specific code use CodeCallFailure.
const (
	// CodeParse marks a malformed source unit (fatal at compile time).
	CodeParse = "PARSE_ERROR"
	// CodeCircularImport marks a flow-import cycle (fatal at merge time).
	CodeCircularImport = "CIRCULAR_IMPORT"
	// CodeUnresolvedVariable marks a variable path that could not be evaluated.
	CodeUnresolvedVariable = "UNRESOLVED_VARIABLE"
	// CodeMissingArgument marks a required call argument that resolved to null.
	CodeMissingArgument = "MISSING_ARGUMENT"
	// CodeToolResolution marks a tool name with no builtin, server or bridge target.
	CodeToolResolution = "TOOL_RESOLUTION_ERROR"
	// CodeToolTimeout marks a client-bridge round trip that exceeded its deadline.
	CodeToolTimeout = "TOOL_TIMEOUT"
	// CodeCallFailure marks an I/O failure reported by a collaborator.
	CodeCallFailure = "CALL_FAILURE"
	// CodeCanceled marks a run-level cancellation observed by a node task.
	CodeCanceled = "CANCELED"
)

// RunError is the structured failure attached to a node. It is what OnError
// handlers observe as $error and what a run reports as its terminal failure.
type RunError struct {
	Code    string // one of the Code* constants
	Message string // human-readable description
	Node    string // id of the failing node ("" for compile/merge errors)
	Details Value  // optional structured payload
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s at node %q: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRunError constructs a RunError without node attribution.
func NewRunError(code, format string, args ...any) *RunError {
	return &RunError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode returns a copy of e attributed to the given node id.
func (e *RunError) WithNode(node string) *RunError {
	c := *e
	c.Node = node
	return &c
}

// Value renders the error as the $error object injected into context for
// OnError handlers: {code, message, node, details}.
func (e *RunError) Value() Value {
	fields := map[string]Value{
		"code":    String(e.Code),
		"message": String(e.Message),
		"node":    String(e.Node),
	}
	if !e.Details.IsNull() {
		fields["details"] = e.Details
	}
	return Object(fields)
}

// AsRunError unwraps err to a *RunError, wrapping foreign errors as
// CodeCallFailure so every node failure carries a code.
func AsRunError(err error) *RunError {
	if err == nil {
		return nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return &RunError{Code: CodeCallFailure, Message: err.Error()}
}
