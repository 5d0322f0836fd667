package paper

import "fmt"

// FormatError reports an unparseable URL or filename. It is fatal to the
// single item being parsed, never to the surrounding run.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unparseable input %q: %s", e.Input, e.Reason)
}

// ValidationError reports an identity that violates the canonical schema.
// Always fatal to the single item.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
