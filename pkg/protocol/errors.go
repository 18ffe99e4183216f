package protocol

import "fmt"

// ErrorCode identifies a protocol-level failure.
type ErrorCode string

const (
	CodeAgentNotFound        ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentBusy            ErrorCode = "AGENT_BUSY"
	CodeAgentTimeout         ErrorCode = "AGENT_TIMEOUT"
	CodeModelNotAvailable    ErrorCode = "MODEL_NOT_AVAILABLE"
	CodeModelRateLimited     ErrorCode = "MODEL_RATE_LIMITED"
	CodeModelContextExceeded ErrorCode = "MODEL_CONTEXT_EXCEEDED"
	CodeSkillNotFound        ErrorCode = "SKILL_NOT_FOUND"
	CodeSkillExecutionFailed ErrorCode = "SKILL_EXECUTION_FAILED"
	CodeActionNotSupported   ErrorCode = "ACTION_NOT_SUPPORTED"
	CodeActionFailed         ErrorCode = "ACTION_FAILED"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeForbidden            ErrorCode = "FORBIDDEN"
	CodeOrgNotFound          ErrorCode = "ORG_NOT_FOUND"
	CodeWorkAPIError         ErrorCode = "WORK_API_ERROR"
	CodeWorkFormValidation   ErrorCode = "WORK_FORM_VALIDATION"
	CodeWorkEntityNotFound   ErrorCode = "WORK_ENTITY_NOT_FOUND"
	CodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
)

// recoverableCodes are failures the host UI may offer to retry; retry is
// always a new caller-initiated operation, never automatic.
var recoverableCodes = map[ErrorCode]bool{
	CodeAgentBusy:         true,
	CodeAgentTimeout:      true,
	CodeModelNotAvailable: true,
	CodeModelRateLimited:  true,
	CodeWorkAPIError:      true,
}

// Recoverable reports whether an error with this code is worth retrying.
func (c ErrorCode) Recoverable() bool {
	return recoverableCodes[c]
}

// APIError is the wire-visible error shape. Every error carries a
// human-readable message and a recoverable flag.
type APIError struct {
	Code       ErrorCode
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds an APIError with a formatted message.
func NewAPIError(code ErrorCode, format string, args ...interface{}) *APIError {
	return &APIError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Detail converts the error to its wire payload.
func (e *APIError) Detail() *ErrorDetail {
	return &ErrorDetail{
		Code:        e.Code,
		Message:     e.Message,
		Recoverable: e.Code.Recoverable(),
		RetryAfter:  e.RetryAfter,
	}
}
