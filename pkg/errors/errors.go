package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error so callers can decide whether to retry,
// resubmit or give up. The set is closed.
type Kind int

const (
	KindInfrastructure Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "infrastructure"
	}
}

// Stable error codes
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotInFuture       = "NOT_IN_FUTURE"
	CodeNoAvailability    = "NO_AVAILABILITY"
	CodeOverbooking       = "OVERBOOKING"
	CodeSlotOverlap       = "SLOT_OVERLAP"
	CodeDuplicatePending  = "DUPLICATE_PENDING"
	CodeProviderIDTaken   = "PROVIDER_ID_TAKEN"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeDBError           = "DB_ERROR"
	CodeSlotBusy          = "SLOT_BUSY"
	CodeEmailTaken        = "EMAIL_TAKEN"
	// Authentication failures share KindAuthorization; the gateway answers
	// them with 401 instead of 403.
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
)

// Error is the application error carried across service boundaries.
type Error struct {
	Kind    Kind                   `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithData attaches structured context and returns the same error.
func (e *Error) WithData(key string, value interface{}) *Error {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func Invalid(message string) *Error {
	return New(KindValidation, CodeInvalidInput, message)
}

// Unauthenticated reports a missing or rejected credential.
func Unauthenticated(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "forbidden"
	}
	return New(KindAuthorization, CodeForbidden, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func NotFound(entity string, id interface{}) *Error {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf("%s not found", entity)).
		WithData("entity", entity).
		WithData("id", fmt.Sprint(id))
}

func Infrastructure(err error, message string) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeDBError, Message: message, Err: err}
}

// KindOf reports the kind of err. Errors that are not *Error are
// treated as infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the stable code of err or DB_ERROR for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeDBError
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As is re-exported so callers need only one errors import.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
