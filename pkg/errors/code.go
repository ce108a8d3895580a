package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: User module errors
// 12000-12999: Problem & Language module errors
// 13000-13999: Submission & Judge module errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10303
	PageNotFound       ErrorCode = 10304
	MissingFilter      ErrorCode = 10305

	// ========== User Module Errors (11000-11999) ==========

	// Authentication (11000-11099)
	InvalidCredentials ErrorCode = 11000
	UserNotFound       ErrorCode = 11001
	TokenExpired       ErrorCode = 11003
	TokenInvalid       ErrorCode = 11004

	// Account validation (11100-11199)
	InvalidUsername ErrorCode = 11100
	InvalidPassword ErrorCode = 11101
	PasswordTooWeak ErrorCode = 11102

	// User operations (11200-11299)
	UsernameAlreadyExists ErrorCode = 11201
	AccountSuspended      ErrorCode = 11203

	// ========== Problem & Language Module Errors (12000-12999) ==========

	// Problem basic (12000-12099)
	ProblemNotFound ErrorCode = 12000

	// Test cases (12100-12199)
	TestCaseInvalid ErrorCode = 12102

	// Languages (12300-12399)
	LanguageNotSupported ErrorCode = 12300

	// ========== Submission & Judge Module Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	SubmitTooFrequently    ErrorCode = 13004

	// Judge (13100-13199)
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	SandboxCreateFailed ErrorCode = 13107
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",
	PageNotFound:       "The page does not exist",
	MissingFilter:      "At least one filter is required",

	// User
	InvalidCredentials:    "Invalid username or password",
	UserNotFound:          "User not found",
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Invalid token",
	InvalidUsername:       "Invalid username format",
	InvalidPassword:       "Invalid password format",
	PasswordTooWeak:       "Password is too weak",
	UsernameAlreadyExists: "Username already exists",
	AccountSuspended:      "Account has been suspended",

	// Problem & Language
	ProblemNotFound:      "Problem not found",
	TestCaseInvalid:      "Invalid test case format",
	LanguageNotSupported: "Programming language not supported",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	// Judge
	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	SandboxCreateFailed: "Failed to create sandbox",
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
	case c >= 11000 && c < 11100 && c != UserNotFound: // Authentication errors
		return 401
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == AccountSuspended:
		return 403
	case c == NotFound, c == UserNotFound, c == ProblemNotFound,
		c == LanguageNotSupported, c == SubmissionNotFound, c == PageNotFound:
		return 404
	case c == UsernameAlreadyExists, c == RecordAlreadyExists:
		return 409
	case c >= 11100 && c < 11200: // Account validation errors
		return 400
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
