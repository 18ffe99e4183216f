package httpapi

import (
	"errors"
	"net/http"

	"github.com/ternhq/tern/pkg/protocol"
)

// statusFor maps an error code to its HTTP status.
func statusFor(code protocol.ErrorCode) int {
	switch code {
	case protocol.CodeAgentNotFound,
		protocol.CodeSessionNotFound,
		protocol.CodeSkillNotFound,
		protocol.CodeOrgNotFound,
		protocol.CodeWorkEntityNotFound:
		return http.StatusNotFound
	case protocol.CodeAgentBusy:
		return http.StatusConflict
	case protocol.CodeAgentTimeout:
		return http.StatusGatewayTimeout
	case protocol.CodeModelNotAvailable:
		return http.StatusServiceUnavailable
	case protocol.CodeModelRateLimited:
		return http.StatusTooManyRequests
	case protocol.CodeModelContextExceeded,
		protocol.CodeActionNotSupported,
		protocol.CodeWorkFormValidation:
		return http.StatusBadRequest
	case protocol.CodeUnauthorized:
		return http.StatusUnauthorized
	case protocol.CodeForbidden:
		return http.StatusForbidden
	case protocol.CodeWorkAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// asAPIError normalizes any error into an APIError.
func asAPIError(err error) *protocol.APIError {
	var apiErr *protocol.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &protocol.APIError{
		Code:    protocol.CodeSkillExecutionFailed,
		Message: err.Error(),
	}
}
