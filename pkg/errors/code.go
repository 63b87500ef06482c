package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem & test data errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Contest errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Storage errors (10100-10299)
	DatabaseError      ErrorCode = 10100
	RecordNotFound     ErrorCode = 10101
	CacheError         ErrorCode = 10200
	ObjectStorageError ErrorCode = 10250
	MessageQueueError  ErrorCode = 10260

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102
	TestCaseTooLarge ErrorCode = 12103
	ValidatorFailed  ErrorCode = 12110

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003

	// Judge (13100-13199)
	JudgeQueueEmpty    ErrorCode = 13100
	JudgeSystemError   ErrorCode = 13101
	SandboxUnavailable ErrorCode = 13107
	HostUnhealthy      ErrorCode = 13108
	InvalidTransition  ErrorCode = 13109
	StaleClaim         ErrorCode = 13110
	InputTooLarge      ErrorCode = 13201

	// ========== Contest Errors (14000-14999) ==========

	ContestNotFound     ErrorCode = 14000
	RankingNotAvailable ErrorCode = 14200
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:      "Database operation failed",
	RecordNotFound:     "Record not found in database",
	CacheError:         "Cache operation failed",
	ObjectStorageError: "Object storage operation failed",
	MessageQueueError:  "Message queue operation failed",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",
	TestCaseTooLarge: "Test case file is too large",
	ValidatorFailed:  "Validator failed to run",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",

	JudgeQueueEmpty:    "No queued submission",
	JudgeSystemError:   "Judge system error",
	SandboxUnavailable: "Sandbox runtime unavailable",
	HostUnhealthy:      "Judge host is unhealthy",
	InvalidTransition:  "Invalid submission state transition",
	StaleClaim:         "Submission is no longer claimed by this worker",
	InputTooLarge:      "Input is too large",

	ContestNotFound:     "Contest not found",
	RankingNotAvailable: "Ranking is not available",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == Unauthorized:
		return http.StatusUnauthorized
	case c == NotFound, c == ProblemNotFound, c == ContestNotFound, c == SubmissionNotFound:
		return http.StatusNotFound
	case c == CodeTooLarge, c == InputTooLarge:
		return http.StatusRequestEntityTooLarge
	case c == ServiceUnavailable, c == SandboxUnavailable:
		return http.StatusServiceUnavailable
	case c >= 10300 && c < 10400, c == InvalidParams, c == LanguageNotSupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
