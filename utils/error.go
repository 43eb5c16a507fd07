package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorCode is the stable machine-readable code attached to every rejected
// call. Codes never change once clients depend on them.
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeStateConflict ErrorCode = "STATE_CONFLICT"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeTransactional ErrorCode = "TRANSACTION_FAILED"
)

type CodedError struct {
	Code    ErrorCode
	Message string
}

func (e *CodedError) Error() string {
	return e.Message
}

func ValidationError(message string) error {
	return &CodedError{Code: ErrCodeValidation, Message: message}
}

func NotFoundError(message string) error {
	return &CodedError{Code: ErrCodeNotFound, Message: message}
}

func StateConflictError(message string) error {
	return &CodedError{Code: ErrCodeStateConflict, Message: message}
}

// CodeOf classifies any error for the HTTP boundary. Unclassified errors are
// storage/infrastructure failures: the whole unit was rolled back and the
// caller may safely retry.
func CodeOf(err error) ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrCodeNotFound
	}
	return ErrCodeTransactional
}
