package errors

// ErrorCategory groups related application errors for unified handling.
type ErrorCategory string

const (
	ErrCategorySystem     ErrorCategory = "SYSTEM"
	ErrCategoryNetwork    ErrorCategory = "NETWORK"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryDependency ErrorCategory = "DEPENDENCY"
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryProcess    ErrorCategory = "PROCESS"
	ErrCategoryDatabase   ErrorCategory = "DATABASE"
)
