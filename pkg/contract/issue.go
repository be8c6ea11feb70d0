// Package contract checks that every node instance receives the parameters its
// type declares, with compatible semantic types, before a workflow runs.
package contract

import (
	"fmt"
	"strings"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// Issue codes reported by ValidateDeclarations.
const (
	CodeMissingRequired     = "MISSING_REQUIRED"
	CodeInvalidType         = "INVALID_TYPE"
	CodeTypeMismatch        = "TYPE_MISMATCH"
	CodeUndeclaredParameter = "UNDECLARED_PARAMETER"
	CodeUnknownParameter    = "UNKNOWN_PARAMETER"
	CodeUnknownOverride     = "UNKNOWN_OVERRIDE"
	CodeCycleWithoutPolicy  = workflow.CodeCycleWithoutPolicy
)

// ValidationIssue is one finding of declaration validation.
type ValidationIssue struct {
	Severity  workflow.Severity `json:"severity"`
	NodeID    string            `json:"node_id"`
	Parameter string            `json:"parameter,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
}

// String renders the issue for logs and the CLI.
func (i ValidationIssue) String() string {
	target := i.NodeID
	if i.Parameter != "" {
		target += "." + i.Parameter
	}
	return fmt.Sprintf("%s [%s] %s: %s", i.Severity, i.Code, target, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == workflow.SeverityError {
			return true
		}
	}
	return false
}

// Errors filters error-severity issues.
func Errors(issues []ValidationIssue) []ValidationIssue {
	return filter(issues, workflow.SeverityError)
}

// Warnings filters warning-severity issues.
func Warnings(issues []ValidationIssue) []ValidationIssue {
	return filter(issues, workflow.SeverityWarning)
}

func filter(issues []ValidationIssue, severity workflow.Severity) []ValidationIssue {
	var out []ValidationIssue
	for _, i := range issues {
		if i.Severity == severity {
			out = append(out, i)
		}
	}
	return out
}

// ParameterValidationError is returned when validation reports blocking issues.
type ParameterValidationError struct {
	Issues []ValidationIssue
}

// Error implements the error interface
func (e *ParameterValidationError) Error() string {
	errs := Errors(e.Issues)
	msgs := make([]string, 0, len(errs))
	for _, i := range errs {
		msgs = append(msgs, i.String())
	}
	return fmt.Sprintf("parameter validation failed with %d error(s): %s", len(errs), strings.Join(msgs, "; "))
}

// Unwrap returns ErrParameterValidation
func (e *ParameterValidationError) Unwrap() error {
	return flowerrors.ErrParameterValidation
}
