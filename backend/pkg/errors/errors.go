package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeNormalization represents malformed raw observations
	ErrorTypeNormalization ErrorType = "normalization"
	// ErrorTypeMatcher represents failures inside a single matcher
	ErrorTypeMatcher ErrorType = "matcher"
	// ErrorTypeScoring represents invalid scoring configuration
	ErrorTypeScoring ErrorType = "scoring"
	// ErrorTypeGraph represents entity/relationship invariant violations
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeStorage represents backing store failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Normalization Errors

// NormalizationError is returned when a raw observation cannot be turned into
// an attribute record. Callers drop the observation and continue the batch.
type NormalizationError struct {
	*BaseError
	Kind   string
	Value  string
	Reason string
}

func NewNormalizationError(kind, value, reason string) *NormalizationError {
	return &NormalizationError{
		BaseError: NewBaseError(ErrorTypeNormalization, fmt.Sprintf("cannot normalize %s: %s", kind, reason), nil),
		Kind:      kind,
		Value:     value,
		Reason:    reason,
	}
}

// Matcher Errors

// MatcherError wraps an unexpected failure (including a recovered panic)
// inside one matcher. Other matchers for the same pair are unaffected.
type MatcherError struct {
	*BaseError
	Matcher string
	Reason  string
}

func NewMatcherError(matcher, reason string, err error) *MatcherError {
	return &MatcherError{
		BaseError: NewBaseError(ErrorTypeMatcher, fmt.Sprintf("matcher %s failed: %s", matcher, reason), err),
		Matcher:   matcher,
		Reason:    reason,
	}
}

// Scoring Errors

// ScoringError is returned at configuration time for unusable weights.
type ScoringError struct {
	*BaseError
	Field  string
	Reason string
}

func NewScoringError(field, reason string) *ScoringError {
	return &ScoringError{
		BaseError: NewBaseError(ErrorTypeScoring, fmt.Sprintf("invalid scoring config: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Graph Errors

// GraphConsistencyError reports a broken invariant such as a duplicate edge
// pair or a relationship pointing at a missing entity. It is fatal for the
// batch being applied.
type GraphConsistencyError struct {
	*BaseError
	EntityID  string
	RelatedID string
	Reason    string
}

func NewGraphConsistencyError(entityID, relatedID, reason string) *GraphConsistencyError {
	return &GraphConsistencyError{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("graph inconsistency (%s, %s): %s", entityID, relatedID, reason), nil),
		EntityID:  entityID,
		RelatedID: relatedID,
		Reason:    reason,
	}
}

// ErrEntityNotFound is returned when an entity id is unknown
type ErrEntityNotFound struct {
	*BaseError
	EntityID string
}

func NewEntityNotFound(entityID string) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("entity not found: %s", entityID), nil),
		EntityID:  entityID,
	}
}

// Storage Errors

// StorageError wraps a failure of the backing store
type StorageError struct {
	*BaseError
	Operation string
}

func NewStorageError(operation string, err error) *StorageError {
	return &StorageError{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage operation failed: %s", operation), err),
		Operation: operation,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

type typed interface {
	errorType() ErrorType
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// IsErrorType checks if an error, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := err.(typed); ok && t.errorType() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable checks if an error is worth retrying as-is
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	// Store outages are transient; everything else is a data or config problem.
	return IsErrorType(err, ErrorTypeStorage)
}
