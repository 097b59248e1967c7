// Package errors defines the error taxonomy shared by the htmlforge
// pipeline stages.
//
// Every stage failure is a *PipelineError carrying a Kind. Callers match a
// kind with the standard library: errors.Is(err, ErrTemplateExecution).
// Errors wrap their cause, so a TemplateParamsError raised around a failed
// template call still matches ErrTemplateExecution.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a pipeline failure.
type Kind string

const (
	KindTemplateSyntax        Kind = "template_syntax"
	KindLateRegistration      Kind = "late_registration"
	KindNestedCompilation     Kind = "nested_compilation"
	KindTemplateExecution     Kind = "template_execution"
	KindInvalidTemplateResult Kind = "invalid_template_result"
	KindTemplateParams        Kind = "template_params"
	KindConfig                Kind = "config"
	KindIO                    Kind = "io"
)

// PipelineError is a structured error with template location context.
type PipelineError struct {
	Kind     Kind
	Code     string
	Message  string
	Template string
	Line     int
	Column   int
	Cause    error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrTemplateSyntax        = &PipelineError{Kind: KindTemplateSyntax}
	ErrLateRegistration      = &PipelineError{Kind: KindLateRegistration}
	ErrNestedCompilation     = &PipelineError{Kind: KindNestedCompilation}
	ErrTemplateExecution     = &PipelineError{Kind: KindTemplateExecution}
	ErrInvalidTemplateResult = &PipelineError{Kind: KindInvalidTemplateResult}
	ErrTemplateParams        = &PipelineError{Kind: KindTemplateParams}
	ErrConfig                = &PipelineError{Kind: KindConfig}
	ErrIO                    = &PipelineError{Kind: KindIO}
)

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		location := e.Template
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a PipelineError of the same kind. A
// target without a code matches any code of that kind.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if !errors.As(target, &t) {
		return false
	}

	return e.Kind == t.Kind && (t.Code == "" || t.Code == e.Code)
}

// WithLocation adds template location information.
func (e *PipelineError) WithLocation(template string, line, column int) *PipelineError {
	e.Template = template
	e.Line = line
	e.Column = column

	return e
}

// WithTemplate sets the template the error belongs to.
func (e *PipelineError) WithTemplate(template string) *PipelineError {
	e.Template = template

	return e
}

// KindOf returns the kind of the outermost PipelineError in err's chain,
// or the empty kind when there is none.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	return ""
}

// NewTemplateSyntaxError reports malformed interpolation markers.
func NewTemplateSyntaxError(line, column int, message string) *PipelineError {
	return &PipelineError{
		Kind:    KindTemplateSyntax,
		Code:    "TEMPLATE_SYNTAX",
		Message: message,
		Line:    line,
		Column:  column,
	}
}

// NewLateRegistrationError reports a template registered after the child
// compilation already started.
func NewLateRegistrationError(template string) *PipelineError {
	return &PipelineError{
		Kind:     KindLateRegistration,
		Code:     "LATE_REGISTRATION",
		Message:  "new templates can only be added before the child compilation starts",
		Template: template,
	}
}

// NewNestedCompilationError joins the messages reported by a failed child
// compilation.
func NewNestedCompilationError(messages []string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindNestedCompilation,
		Code:    "CHILD_COMPILATION",
		Message: "Child compilation failed:\n" + strings.Join(messages, "\n"),
		Cause:   cause,
	}
}

// NewTemplateExecutionError wraps a failure raised while executing
// compiled template source.
func NewTemplateExecutionError(template string, cause error) *PipelineError {
	return &PipelineError{
		Kind:     KindTemplateExecution,
		Code:     "TEMPLATE_EXECUTION",
		Message:  "template execution failed",
		Template: template,
		Cause:    cause,
	}
}

// NewInvalidTemplateResultError reports a module that produced neither
// html nor a template function.
func NewInvalidTemplateResultError(template, got string) *PipelineError {
	return &PipelineError{
		Kind:     KindInvalidTemplateResult,
		Code:     "INVALID_TEMPLATE_RESULT",
		Message:  fmt.Sprintf("the loader didn't return html (got %s)", got),
		Template: template,
	}
}

// NewTemplateParamsError wraps a failure of a template function call.
func NewTemplateParamsError(template string, cause error) *PipelineError {
	return &PipelineError{
		Kind:     KindTemplateParams,
		Code:     "TEMPLATE_PARAMS",
		Message:  "template function failed for the given parameters",
		Template: template,
		Cause:    cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindConfig,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    KindIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
