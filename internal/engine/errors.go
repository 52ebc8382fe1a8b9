package engine

import (
	"errors"
	"fmt"

	"restkit/internal/rules"
	"restkit/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

// ClientError is a malformed request: bad filter syntax, bad paging and so on.
func ClientError(code, format string, args ...any) *AppError {
	return &AppError{Code: code, Status: 400, Message: fmt.Sprintf(format, args...)}
}

// InternalError marks a schema or programming mistake. It is never retried.
func InternalError(code, format string, args ...any) *AppError {
	return &AppError{Code: code, Status: 500, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
	}
}

func UnknownResourceError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_RESOURCE",
		Status:  404,
		Message: fmt.Sprintf("Unknown resource: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

// IntegrityError reports a constraint violation. Parsed engine detail becomes a
// DUPLICATE_KEY (or FOREIGN_KEY) conflict; anything else degrades to a generic
// persistence error.
func IntegrityError(ie *store.IntegrityError) *AppError {
	if !ie.Parsed() {
		return InternalError("PERSISTENCE_ERROR", "The record could not be saved")
	}
	code, msg := "DUPLICATE_KEY", "A record with this value already exists"
	if errors.Is(ie, store.ErrForeignKeyViolation) {
		code, msg = "FOREIGN_KEY", "The record references a missing or still referenced row"
	}
	return &AppError{
		Code:    code,
		Status:  409,
		Message: msg,
		Details: []ErrorDetail{{Field: ie.Field, Rule: ie.Constraint, Value: ie.Value, Message: ie.Error()}},
	}
}

func badQueryError() *AppError {
	return ClientError("BAD_QUERY", "a bad query was attempted")
}

func badRelationshipError(relation, field string) *AppError {
	return InternalError("BAD_RELATIONSHIP_REFERENCE", "bad relationship reference: %s.%s", relation, field)
}

// asAppError maps well-known lower level failures onto the taxonomy. Unknown
// errors pass through unchanged.
func asAppError(resource, id string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError(resource, id)
	}
	if errors.Is(err, rules.ErrForbidden) {
		return ForbiddenError(fmt.Sprintf("Permission denied for %s", resource))
	}
	var ie *store.IntegrityError
	if errors.As(err, &ie) {
		return IntegrityError(ie)
	}
	return err
}
