package types

import (
	"strings"

	ierr "github.com/creditrail/creditrail/internal/errors"
)

// OperationCode is a dotted identifier "{appCode}.{moduleCode}.{permission}"
// pricing a unit of work. Parsing lives here so callers never split the
// dotted string themselves.
type OperationCode string

func (o OperationCode) String() string {
	return string(o)
}

// NewOperationCode builds an operation code from its three segments.
func NewOperationCode(appCode, moduleCode, permission string) OperationCode {
	return OperationCode(appCode + "." + moduleCode + "." + permission)
}

// AppCode returns the application segment of the code, or "" when the code is
// malformed.
func (o OperationCode) AppCode() string {
	parts := strings.SplitN(string(o), ".", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// ModuleCode returns the module segment of the code, or "" when the code is
// malformed.
func (o OperationCode) ModuleCode() string {
	parts := strings.Split(string(o), ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// Permission returns the permission segment of the code, or "" when the code
// is malformed.
func (o OperationCode) Permission() string {
	parts := strings.Split(string(o), ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// Validate enforces the grammar: exactly three non-empty segments, lowercase
// alphanumeric with underscores.
func (o OperationCode) Validate() error {
	parts := strings.Split(string(o), ".")
	if len(parts) != 3 {
		return o.invalid("operation code must have exactly three dotted segments")
	}
	for _, part := range parts {
		if part == "" {
			return o.invalid("operation code segments must be non-empty")
		}
		for _, r := range part {
			if !isOperationCodeRune(r) {
				return o.invalid("operation code segments must be lowercase alphanumeric or underscore")
			}
		}
	}
	return nil
}

func isOperationCodeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

func (o OperationCode) invalid(msg string) error {
	return ierr.NewError(msg).
		WithHint("Operation codes follow the form app.module.permission").
		WithReportableDetails(map[string]any{
			"operation_code": o,
		}).
		Mark(ierr.ErrInvalidOperationCode)
}
