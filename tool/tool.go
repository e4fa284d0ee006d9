// Package tool implements the tool subsystem of the workflow engine: the
// Tool interface builtins and adapters satisfy, schema validated argument
// handling, the tool-definition resource registry (named bundles referenced
// by agents and workflow calls), and the resolver that turns a call's tool
// configuration into a concrete definition list.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
)

// Tool is a callable capability a workflow node or an agent loop can invoke.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
//   - Follow consistent naming conventions (snake_case recommended)
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is provided to the model to help it decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool against the run's execution context. Arguments
	// arrive already rendered (variable references resolved) and validated
	// against the tool's schema where one is declared.
	Call(ctx context.Context, ec *core.ExecutionContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError codes shared across the tool subsystem. Executors treat
// CodeMissingArgument specially: a required argument absent at the call site
// surfaces as a missing-argument run error rather than a generic failure.
const (
	CodeMissingArgument = "MISSING_ARGUMENT"
	CodeValidation      = "VALIDATION_ERROR"
	CodeExecution       = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
