package prompt

import (
	"fmt"

	"github.com/aschepis/bpmai/llm"
)

// TemplateNotFoundError is returned when neither the provider-specific nor the default
// template file exists.
type TemplateNotFoundError struct {
	Path string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("no prompt file found at %s", e.Path)
}

// TemplateFormatError reports a template that could not be rendered or whose markers are
// malformed.
type TemplateFormatError struct {
	Reason string
	Err    error
}

func (e *TemplateFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid prompt template: %s: %v", e.Reason, e.Err)
	}
	return "invalid prompt template: " + e.Reason
}

func (e *TemplateFormatError) Unwrap() error {
	return e.Err
}

func formatError(format string, args ...any) *TemplateFormatError {
	return &TemplateFormatError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedContentCombinationError is returned when one section mixes blob and tool_call
// markers.
type UnsupportedContentCombinationError struct {
	Role llm.Role
}

func (e *UnsupportedContentCombinationError) Error() string {
	return fmt.Sprintf("%s section mixes blob and tool_call markers", e.Role)
}
