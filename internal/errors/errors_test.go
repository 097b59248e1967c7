package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *PipelineError
		expected string
	}{
		{
			name:     "syntax error with location",
			err:      NewTemplateSyntaxError(3, 7, "unclosed interpolation").WithTemplate("index.html"),
			expected: "[TEMPLATE_SYNTAX] index.html:3:7 unclosed interpolation",
		},
		{
			name:     "execution error with cause",
			err:      NewTemplateExecutionError("index.html", errors.New("unknown variable")),
			expected: "[TEMPLATE_EXECUTION] index.html template execution failed: unknown variable",
		},
		{
			name:     "nested compilation joins messages",
			err:      NewNestedCompilationError([]string{"first", "second"}, nil),
			expected: "[CHILD_COMPILATION] Child compilation failed:\nfirst\nsecond",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestPipelineErrorIs(t *testing.T) {
	cause := NewTemplateExecutionError("index.html", errors.New("boom"))
	wrapped := NewTemplateParamsError("index.html", cause)

	assert.True(t, errors.Is(wrapped, ErrTemplateParams))
	assert.True(t, errors.Is(wrapped, ErrTemplateExecution))
	assert.False(t, errors.Is(wrapped, ErrTemplateSyntax))

	outer := fmt.Errorf("emit: %w", wrapped)
	assert.True(t, errors.Is(outer, ErrTemplateExecution))
	assert.Equal(t, KindTemplateParams, KindOf(outer))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestPipelineErrorIsMatchesCode(t *testing.T) {
	err := NewConfigError("INVALID_INJECT", "inject must be head or body", nil)

	assert.True(t, errors.Is(err, ErrConfig))
	assert.True(t, errors.Is(err, &PipelineError{Kind: KindConfig, Code: "INVALID_INJECT"}))
	assert.False(t, errors.Is(err, &PipelineError{Kind: KindConfig, Code: "OTHER"}))
}

func TestLateRegistrationError(t *testing.T) {
	err := NewLateRegistrationError("about.html")

	assert.True(t, errors.Is(err, ErrLateRegistration))
	assert.Contains(t, err.Error(), "about.html")
}
