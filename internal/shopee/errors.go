package shopee

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrConfigMissingPartnerID  = errors.New("shopee: partner id is required")
	ErrConfigMissingPartnerKey = errors.New("shopee: partner key is required")

	ErrRequestFailed   = errors.New("shopee: request failed")
	ErrInvalidResponse = errors.New("shopee: invalid response")
	ErrAuth            = errors.New("shopee: authentication failed")
	ErrParam           = errors.New("shopee: invalid parameters")
	ErrRateLimited     = errors.New("shopee: rate limited")
	ErrServerBusy      = errors.New("shopee: server busy")
	ErrAPI             = errors.New("shopee: api error")

	ErrInvalidCredentials     = errors.New("shopee: invalid credentials")
	ErrUnsupportedCredentials = errors.New("shopee: unsupported credentials version")
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("shopee: http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() []error {
	errs := []error{ErrRequestFailed}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		errs = append(errs, ErrRateLimited)
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		errs = append(errs, ErrAuth)
	case e.StatusCode >= 500:
		errs = append(errs, ErrServerBusy)
	}
	return errs
}

// APIError is the {error, message} envelope the platform returns in a 2xx body.
type APIError struct {
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "shopee: " + e.Code
	}
	return fmt.Sprintf("shopee: %s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "error_auth", "error_permission", "invalid_access_token", "invalid_acceess_token",
		"error_invalid_token", "invalid_refresh_token", "error_token":
		return ErrAuth
	case "error_param", "error_invalid_param":
		return ErrParam
	case "error_too_many_request", "error_rate_limit":
		return ErrRateLimited
	case "error_busy", "error_server", "error_inner", "error_network":
		return ErrServerBusy
	default:
		return ErrAPI
	}
}

// Envelope carries the error fields present on every response.
type Envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Err returns an *APIError when the envelope reports one.
func (e Envelope) Err() error {
	if e.Error == "" {
		return nil
	}
	return &APIError{Code: e.Error, Message: e.Message, RequestID: e.RequestID}
}

// IsRetryable reports whether err is a transient failure (rate limit, 5xx,
// busy envelope or network error).
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerBusy) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
