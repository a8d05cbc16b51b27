package cerrors

import (
	"fmt"

	"github.com/palantir/stacktrace"
)

type ErrorType string

const (
	ErrorTypeNonUserFriendly   ErrorType = "NON_USER_FRIENDLY_ERROR"
	ErrorTypeGeneric           ErrorType = "GENERIC_ERROR"
	ErrorTypeValidation        ErrorType = "VALIDATION_ERROR"
	ErrorTypeConflict          ErrorType = "CONFLICT_ERROR"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeInvalidCron       ErrorType = "INVALID_CRON_ERROR"
	ErrorTypePlatformTransient ErrorType = "PLATFORM_TRANSIENT_ERROR"
	ErrorTypePlatformPermanent ErrorType = "PLATFORM_PERMANENT_ERROR"
	ErrorTypePollTimeout       ErrorType = "POLL_TIMEOUT_ERROR"
	ErrorTypeStopTimeout       ErrorType = "STOP_TIMEOUT_ERROR"
)

// Error is the common error carrier for the orchestration engine,
// it keeps the failed phase and target alongside the reason
type Error struct {
	ErrorCode ErrorType
	Phase     string
	Target    string
	Reason    string
}

func (e Error) Error() string {
	switch {
	case e.Phase == "" && e.Target == "":
		return e.Reason
	case e.Phase == "":
		return fmt.Sprintf("target: %s, %s", e.Target, e.Reason)
	case e.Target == "":
		return fmt.Sprintf("[%s]: %s", e.Phase, e.Reason)
	}
	return fmt.Sprintf("[%s]: target: %s, %s", e.Phase, e.Target, e.Reason)
}

func (e Error) UserFriendly() bool {
	return true
}

func (e Error) ErrorType() ErrorType {
	return e.ErrorCode
}

type userFriendly interface {
	UserFriendly() bool
	ErrorType() ErrorType
}

// IsUserFriendly returns true if err is marked as safe to present to callers
func IsUserFriendly(err error) bool {
	ufe, ok := err.(userFriendly)
	return ok && ufe.UserFriendly()
}

// GetErrorType returns the type of error if the error is user-friendly
func GetErrorType(err error) ErrorType {
	if ufe, ok := err.(userFriendly); ok {
		return ufe.ErrorType()
	}
	return ErrorTypeNonUserFriendly
}

// Has reports whether the root cause of err carries the given error code
func Has(err error, code ErrorType) bool {
	if err == nil {
		return false
	}
	return GetErrorType(stacktrace.RootCause(err)) == code
}

func GetRootCauseAndErrorCode(err error) (string, ErrorType) {
	rootCause := stacktrace.RootCause(err)
	errorType := GetErrorType(rootCause)
	if !IsUserFriendly(rootCause) {
		return err.Error(), errorType
	}
	return rootCause.Error(), errorType
}
