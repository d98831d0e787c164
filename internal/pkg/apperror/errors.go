package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeInvariantViolation  ErrorCode = "INVARIANT_VIOLATION"
	ErrCodePreconditionFailed  ErrorCode = "PRECONDITION_FAILED"
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeExternalService     ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// codeToHTTPStatus задаёт соответствие кодов ошибок HTTP-статусам.
// Транспортный слой живёт вне ядра, но контракт отображения фиксируем здесь.
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidTransition, ErrCodeInvariantViolation, ErrCodePreconditionFailed, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConcurrencyConflict:
		return http.StatusConflict
	case ErrCodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

func IsInvalidTransition(err error) bool {
	return Is(err, ErrCodeInvalidTransition)
}

func IsInvariantViolation(err error) bool {
	return Is(err, ErrCodeInvariantViolation)
}

func IsPreconditionFailed(err error) bool {
	return Is(err, ErrCodePreconditionFailed)
}

func IsConcurrencyConflict(err error) bool {
	return Is(err, ErrCodeConcurrencyConflict)
}

var (
	ErrContractNotFound  = New(ErrCodeNotFound, "контракт не найден")
	ErrMilestoneNotFound = New(ErrCodeNotFound, "этап не найден")
	ErrPaymentNotFound   = New(ErrCodeNotFound, "escrow-платёж не найден")
	ErrDisputeNotFound   = New(ErrCodeNotFound, "спор не найден")
	ErrReviewNotFound    = New(ErrCodeNotFound, "отзыв не найден")
)
