package script

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var removedGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Error",
	"Math",
	"JSON",
}

const freezeScript = `(function(obj) {
	if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
		Object.freeze(obj);
		if (obj.prototype) {
			Object.freeze(obj.prototype);
		}
	}
})`

func (e *Engine) sandbox(rt *goja.Runtime) error {
	for _, name := range removedGlobals {
		if err := rt.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if e.config.Security == SecurityStrict {
		restricted := func(goja.FunctionCall) goja.Value {
			panic(rt.NewGoError(&Error{Type: ErrorSecurity, Message: "eval is not allowed in strict security mode"}))
		}
		if err := rt.Set("eval", restricted); err != nil {
			return err
		}
	}

	if err := rt.Set("console", e.console(rt)); err != nil {
		return fmt.Errorf("failed to install console: %w", err)
	}

	if e.config.Security == SecurityPermissive {
		return nil
	}
	val, err := rt.RunString(freezeScript)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}
	for _, name := range frozenBuiltins {
		obj := rt.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}

// console routes script logging to the engine logger.
func (e *Engine) console(rt *goja.Runtime) *goja.Object {
	obj := rt.NewObject()
	bind := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			level(strings.Join(parts, " "), zap.String("source", "script"))
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", bind(e.logger.Debug))
	_ = obj.Set("info", bind(e.logger.Info))
	_ = obj.Set("warn", bind(e.logger.Warn))
	_ = obj.Set("error", bind(e.logger.Error))
	return obj
}
