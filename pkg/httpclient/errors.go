package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/siraat/companion/pkg/errors"
)

const maxErrorBody = 1 << 20

// downstreamError accepts the error shapes the Siraat backend produces:
// {"error":{"code":"..","message":".."}}, {"error":".."} and {"message":".."}.
type downstreamError struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type structuredError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerError is returned by the circuit breaker for 5xx responses, which it
// counts as failures. The body has already been read and the response closed.
type ServerError struct {
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an AppError. The body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}
	return errorFromBody(resp.StatusCode, body, serviceName)
}

// AsAppError converts a *ServerError anywhere in err's chain into an AppError.
// Other errors are returned unchanged.
func AsAppError(err error, serviceName string) error {
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return errorFromBody(srvErr.StatusCode, srvErr.Body, serviceName)
	}
	return err
}

func errorFromBody(status int, body []byte, serviceName string) error {
	if code, message, ok := decodeDownstreamError(body); ok {
		return mapDownstreamError(status, code, message, serviceName)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(status)
	}
	if status < 500 {
		return mapDownstreamError(status, "", text, serviceName)
	}
	return fmt.Errorf("%s returned status %d: %s", serviceName, status, text)
}

func decodeDownstreamError(body []byte) (code, message string, ok bool) {
	var d downstreamError
	if json.Unmarshal(body, &d) != nil {
		return "", "", false
	}

	if len(d.Error) > 0 && string(d.Error) != "null" {
		var se structuredError
		if json.Unmarshal(d.Error, &se) == nil && (se.Code != "" || se.Message != "") {
			return se.Code, se.Message, true
		}
		var s string
		if json.Unmarshal(d.Error, &s) == nil && s != "" {
			return d.Code, s, true
		}
	}

	if d.Message != "" {
		return d.Code, d.Message, true
	}
	return "", "", false
}

// mapDownstreamError translates a backend status and error code into an
// AppError that keeps the backend's message.
func mapDownstreamError(status int, code, message, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)

	var appErr *apperrors.AppError
	switch {
	case status == http.StatusNotFound:
		appErr = apperrors.NotFound(serviceName, "")
		appErr.Message = qualifiedMsg
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		appErr = apperrors.InvalidInput(qualifiedMsg)
		appErr.Status = status
	case status == http.StatusConflict:
		appErr = apperrors.Conflict(qualifiedMsg)
	case status == http.StatusUnauthorized:
		appErr = apperrors.Unauthorized(qualifiedMsg)
	case status == http.StatusForbidden:
		appErr = apperrors.Forbidden(qualifiedMsg)
	case status == http.StatusTooManyRequests:
		appErr = apperrors.RateLimited(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		appErr = apperrors.ServiceUnavailable(qualifiedMsg)
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", status)
		}
		return &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  status,
		}
	}

	if code != "" {
		appErr.Code = code
	}
	return appErr
}
