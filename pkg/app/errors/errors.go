// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

const (
	// CategoryNoError is used when an operation returns no error.
	CategoryNoError Category = iota
	// CategoryDataError The caller sent invalid input, for example a
	// same-network transfer or a non-positive amount.
	CategoryDataError
	// CategoryResourceNotFound The caller is attempting to access a resource that does not exist
	CategoryResourceNotFound
	// CategoryDependencyFailure A dependent service (bridging engine, chain node) is throwing errors
	CategoryDependencyFailure
	// CategoryGeneralError The service failed in an unexpected way
	CategoryGeneralError
)

var categories = map[Category]struct {
	name   string
	status int
}{
	CategoryNoError:           {"CategoryNoError", http.StatusOK},
	CategoryDataError:         {"CategoryDataError", http.StatusBadRequest},
	CategoryResourceNotFound:  {"CategoryResourceNotFound", http.StatusNotFound},
	CategoryDependencyFailure: {"CategoryDependencyFailure", http.StatusBadGateway},
	CategoryGeneralError:      {"CategoryGeneralError", http.StatusInternalServerError},
}

func (c Category) String() string {
	if info, ok := categories[c]; ok {
		return info.name
	}
	return categories[CategoryGeneralError].name
}

// ServiceError carries a caller-facing message plus the underlying cause.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error returns the caller-facing message, falling back to the cause.
func (err *ServiceError) Error() string {
	switch {
	case err.Message != "":
		return err.Message
	case err.Err != nil:
		return err.Err.Error()
	default:
		return err.Category.String()
	}
}

// Unwrap returns the underlying error
func (err *ServiceError) Unwrap() error {
	return err.Err
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// CategoryOf returns the category of err, CategoryGeneralError for plain errors
// and CategoryNoError for nil.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNoError
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Category
	}
	return CategoryGeneralError
}

// Cause returns the innermost message worth persisting for err.
func Cause(err error) string {
	var svcErr *ServiceError
	switch {
	case errors.As(err, &svcErr) && svcErr.Err != nil:
		return svcErr.Err.Error()
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}

// StatusCode returns the HTTP status code for the error category
func StatusCode(err error) int {
	if info, ok := categories[CategoryOf(err)]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func newError(cat Category, err error, message, fallback string) error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError hides err behind "Internal Server Error". The HTTP layer
// logs the cause.
func GeneralError(err error) error {
	return newError(CategoryGeneralError, err, "Internal Server Error", "internal server error")
}

// ResourceNotFoundError returns an error with category ResourceNotFound
func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, message, "resource not found: "+message)
}

// BadRequestError returns an error with category DataError.
// The message is surfaced verbatim to the caller.
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, message, message)
}

// DependencyError returns an error with category DependencyFailure
func DependencyError(err error, message string) error {
	return newError(CategoryDependencyFailure, err, message, message)
}
