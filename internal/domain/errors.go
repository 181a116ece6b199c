package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeDependency       = "DEPENDENCY_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidChunkType     = NewDomainError(ErrCodeValidation, "invalid chunk type")
	ErrMissingOwner         = NewDomainError(ErrCodeValidation, "missing owner id")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrOwnerMismatch        = NewDomainError(ErrCodeValidation, "source document belongs to a different owner")
)

// Not found errors
var (
	ErrSourceNotFound  = NewDomainError(ErrCodeNotFound, "source document not found")
	ErrChunkNotFound   = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
	ErrFlagNotFound    = NewDomainError(ErrCodeNotFound, "feature flag not found")
	ErrRulesetNotFound = NewDomainError(ErrCodeNotFound, "intent ruleset not found")
)

// Dependency errors: an external collaborator (embedding service, reranker
// model) was unreachable or returned garbage. Retryable by the caller.
var (
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeDependency, "embedding service unavailable")
	ErrRerankerUnavailable  = NewDomainError(ErrCodeDependency, "reranker unavailable")
	ErrWrongDimensions      = NewDomainError(ErrCodeDependency, "embedding has unexpected dimensionality")
)

// Conflict errors are recovered internally via insert-if-absent and only
// surface when the fallback itself fails.
var (
	ErrDuplicateChunk = NewDomainError(ErrCodeConflict, "another chunking run already owns part of this chunk set")
	ErrChunkConflict  = NewDomainError(ErrCodeConflict, "chunk set conflict could not be resolved")
)
