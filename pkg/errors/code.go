package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Execution pipeline errors
// 15000-15999: Assistant errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	Canceled            ErrorCode = 10009

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Message queue errors (10250-10299)
	PublishFailed ErrorCode = 10250

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Execution Pipeline Errors (13000-13999) ==========

	// Run requests (13000-13099)
	RunNotFound          ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	TooManyTestCases     ErrorCode = 13004
	InputTooLarge        ErrorCode = 13005

	// Remote judge (13100-13199)
	JudgeSubmitFailed  ErrorCode = 13100
	JudgePollFailed    ErrorCode = 13101
	JudgePollExhausted ErrorCode = 13102
	JudgeUnavailable   ErrorCode = 13103
	JudgeBadResponse   ErrorCode = 13104
	ExecutionPanicked  ErrorCode = 13105

	// ========== Assistant Errors (15000-15999) ==========

	AssistantUnavailable ErrorCode = 15000
	AssistantBusy        ErrorCode = 15001
	AssistantRateLimited ErrorCode = 15002
	AssistantAuthFailed  ErrorCode = 15003
	AssistantEmptyReply  ErrorCode = 15004
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Canceled:            "Request canceled",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Message queue
	PublishFailed: "Failed to publish message",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Run requests
	RunNotFound:          "Run not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	TooManyTestCases:     "Too many test cases",
	InputTooLarge:        "Input is too large",

	// Remote judge
	JudgeSubmitFailed:  "Failed to submit code for execution",
	JudgePollFailed:    "Failed to fetch execution result",
	JudgePollExhausted: "No result after max attempts",
	JudgeUnavailable:   "Execution service temporarily unavailable",
	JudgeBadResponse:   "Execution service returned an invalid response",
	ExecutionPanicked:  "Error executing code. Please try again.",

	// Assistant
	AssistantUnavailable: "Server error. Please try again later.",
	AssistantBusy:        "A message is already being processed",
	AssistantRateLimited: "Rate limit exceeded. Please try again later.",
	AssistantAuthFailed:  "Assistant is not configured correctly",
	AssistantEmptyReply:  "No response from assistant",
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
		return 200
	case c == Unauthorized:
		return 401
	case c == NotFound, c == RunNotFound:
		return 404
	case c == TooManyRequests, c == AssistantBusy, c == AssistantRateLimited:
		return 429
	case c == ServiceUnavailable, c == JudgeUnavailable, c == AssistantUnavailable:
		return 503
	case c == Timeout, c == JudgePollExhausted:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == TooManyTestCases, c == InputTooLarge:
		return 400
	default:
		return 500
	}
}
