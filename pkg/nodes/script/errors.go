package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorSyntax   ErrorType = "syntax_error"
	ErrorRuntime  ErrorType = "runtime_error"
	ErrorTimeout  ErrorType = "timeout_error"
	ErrorSecurity ErrorType = "security_error"
	ErrorInternal ErrorType = "internal_error"
)

// Error is a structured script failure.
type Error struct {
	Type    ErrorType
	Message string
	Line    int
	Column  int
	Stack   string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ", column %d", e.Column)
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func parseCompileError(err error) *Error {
	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return &Error{Type: ErrorSyntax, Message: syntaxErr.Message, Err: err}
	}
	return &Error{Type: ErrorSyntax, Message: err.Error(), Err: err}
}

func parseError(ctx context.Context, err error) *Error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		if errors.Is(cause, context.DeadlineExceeded) {
			return &Error{Type: ErrorTimeout, Message: "execution timed out", Err: cause}
		}
		return &Error{Type: ErrorTimeout, Message: "execution cancelled", Err: cause}
	}

	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return &Error{Type: ErrorInternal, Message: err.Error(), Err: err}
	}

	out := &Error{Type: ErrorRuntime, Message: exc.Error(), Stack: exc.String()}
	if v := exc.Value(); v != nil {
		out.Message = v.String()
		if obj, ok := v.(*goja.Object); ok {
			if inner := obj.Get("value"); inner != nil {
				if goErr, ok := inner.Export().(*Error); ok {
					out.Type = goErr.Type
					out.Message = goErr.Message
				}
			}
		}
	}
	if frames := exc.Stack(); len(frames) > 0 {
		pos := frames[0].Position()
		out.Line, out.Column = pos.Line, pos.Column
	}

	lower := strings.ToLower(out.Message)
	switch {
	case strings.HasPrefix(lower, "syntaxerror"):
		out.Type = ErrorSyntax
	case strings.Contains(lower, "not allowed"):
		out.Type = ErrorSecurity
	}
	return out
}
