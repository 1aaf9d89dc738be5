// Package jsengine evaluates ${...} expressions in scene step text.
package jsengine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// Engine wraps a goja runtime with the template helpers.
// One Engine serves one work item; it is safe for sequential use only
// through its own methods.
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	mu        sync.Mutex
}

// New creates a new JS engine instance
func New() *Engine {
	e := &Engine{
		runtime:   goja.New(),
		variables: make(map[string]interface{}),
	}

	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()
	e.runtime.Set("json", e.jsonFunc())
	e.runtime.Set("truncate", truncateFunc)
	e.runtime.Set("hashtags", hashtagsFunc)
}

// setupConsole routes console.log, console.warn and console.error to the
// diagnostic log.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(logf func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprint(arg.Export())
			}
			logf("[js] %s", strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(logger.Info))
	console.Set("warn", makeConsoleFunc(logger.Warn))
	console.Set("error", makeConsoleFunc(logger.Error))
	e.runtime.Set("console", console)
}

// jsonFunc parses its argument so scenes can read structured options,
// e.g. ${json(item.options).playlist}.
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) != 1 {
			panic(e.runtime.NewTypeError("json takes exactly one argument"))
		}
		var v interface{}
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &v); err != nil {
			panic(e.runtime.NewTypeError("json: " + err.Error()))
		}
		return e.runtime.ToValue(v)
	}
}

// truncateFunc shortens s to max runes, ending with "..." when cut.
func truncateFunc(s string, max int) string {
	return Truncate(s, max)
}

// hashtagsFunc renders a tag list as "#a #b".
func hashtagsFunc(tags []interface{}) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		s := strings.TrimSpace(strings.TrimPrefix(fmt.Sprint(t), "#"))
		if s == "" {
			continue
		}
		parts = append(parts, "#"+strings.ReplaceAll(s, " ", ""))
	}
	return strings.Join(parts, " ")
}

// Truncate shortens s to at most max runes, replacing the tail with "...".
// A non-positive max leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}

// SetVariable exposes value to expressions under name.
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables calls SetVariable for each entry.
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// Eval runs script and exports its completion value.
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", script, err)
	}
	return v.Export(), nil
}

// EvalString is Eval with the result formatted as text; null and
// undefined become "".
func (e *Engine) EvalString(script string) (string, error) {
	v, err := e.Eval(script)
	if err != nil || v == nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// ExpandVariables expands ${...} expressions in a string using JS evaluation.
// Unbalanced braces are left as-is; an expression that fails to evaluate
// aborts the expansion with an error.
func (e *Engine) ExpandVariables(text string) (string, error) {
	result := text
	start := 0

	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			if result[end] == '{' {
				depth++
			} else if result[end] == '}' {
				depth--
			}
			end++
		}

		if depth != 0 {
			start = idx + 2
			continue
		}

		expr := result[idx+2 : end-1]

		value, err := e.EvalString(expr)
		if err != nil {
			return text, fmt.Errorf("expand ${%s}: %w", expr, err)
		}

		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}

	return result, nil
}

// Close releases the runtime. Safe to call multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtime.Interrupt("closed")
	e.variables = make(map[string]interface{})
}
