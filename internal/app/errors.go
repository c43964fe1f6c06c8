package app

import (
	"fmt"
	"net/http"
)

// DomainError carries the error taxonomy the surrounding application
// translates into HTTP responses: scope, not-found, validation and
// persistence failures, each with the offending entity where known.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// scopeError: required organization context was missing for a scoped
// operation. Fatal to the calling operation, never defaulted.
func scopeError(message string) *DomainError {
	return domainError(http.StatusUnauthorized, "SCOPE_REQUIRED", message, nil)
}

func notFoundError(entity, id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", entity), map[string]string{"entity": entity, "id": id})
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION", message, details)
}

func forbiddenError() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func persistenceError(err error) *DomainError {
	return domainError(http.StatusInternalServerError, "PERSISTENCE", err.Error(), nil)
}
