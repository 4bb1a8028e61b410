package app

import (
	"fmt"
	"net/http"
)

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

func errInvalidState(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "INVALID_STATE", message, details)
}

func errNotEditable(message string) *DomainError {
	return domainError(http.StatusConflict, "NOT_EDITABLE", message, nil)
}

func errInvalidTransition(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION", message, details)
}

func errInvalidItem(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_ITEM", message, details)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}
