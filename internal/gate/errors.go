package gate

import "net/http"

type Code string

const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeForbiddenAccount    Code = "FORBIDDEN_ACCOUNT"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeReauthRequired      Code = "REAUTH_REQUIRED"
	CodeInsufficientScope   Code = "INSUFFICIENT_SCOPE"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
)

// Error is the structured verdict the gate hands to the HTTP boundary. The
// frontend renders its consent and re-login affordances from Details alone,
// never from Message prose.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// HTTPStatus maps each code to exactly one status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthenticated, CodeReauthRequired:
		return http.StatusUnauthorized
	case CodeForbiddenAccount, CodeInsufficientScope:
		return http.StatusForbidden
	case CodeAccountNotFound:
		return http.StatusNotFound
	case CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) withDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}
