package errors

import "time"

// New creates a generic AppError with the supplied metadata.
func New(category ErrorCategory, code, message string, err error) *AppError {
	return &AppError{
		Code:        code,
		Category:    category,
		Message:     message,
		Err:         err,
		Recoverable: category == ErrCategoryNetwork,
		Timestamp:   time.Now(),
	}
}

// NewRecoverable creates an AppError flagged as recoverable.
func NewRecoverable(category ErrorCategory, code, message string, err error) *AppError {
	return New(category, code, message, err).WithRecoverable(true)
}

// SystemError creates a SYSTEM category error instance.
func SystemError(code, message string, err error) *AppError {
	return New(ErrCategorySystem, code, message, err)
}

// NetworkError creates a NETWORK category error instance.
func NetworkError(code, message string, err error) *AppError {
	return New(ErrCategoryNetwork, code, message, err)
}

// ConfigError creates a CONFIG category error instance.
func ConfigError(code, message string, err error) *AppError {
	return New(ErrCategoryConfig, code, message, err)
}

// ValidationError creates a VALIDATION category error instance.
func ValidationError(code, message string, err error) *AppError {
	return New(ErrCategoryValidation, code, message, err)
}

// DependencyError creates a DEPENDENCY category error instance.
func DependencyError(code, message string, err error) *AppError {
	return New(ErrCategoryDependency, code, message, err)
}

// NotFoundError creates a NOT_FOUND category error instance.
func NotFoundError(code, message string, err error) *AppError {
	return New(ErrCategoryNotFound, code, message, err)
}

// ProcessError creates a PROCESS category error instance.
func ProcessError(code, message string, err error) *AppError {
	return New(ErrCategoryProcess, code, message, err)
}

// DatabaseError creates a DATABASE category error instance.
func DatabaseError(code, message string, err error) *AppError {
	return New(ErrCategoryDatabase, code, message, err)
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// CategoryOf returns the category of the outermost AppError in err, or "".
func CategoryOf(err error) ErrorCategory {
	if appErr, ok := As(err); ok {
		return appErr.Category
	}
	return ""
}

// IsRecoverable reports whether err is an AppError marked recoverable.
func IsRecoverable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Recoverable
}
