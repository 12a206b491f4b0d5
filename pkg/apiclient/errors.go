package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired means the caller must log in again.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshFailed means the refresh endpoint rejected the refresh token or did not answer in time.
	ErrRefreshFailed = errors.New("credential refresh failed")
	// ErrInvalidCredentials is returned by Login for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code, e.g. "already_voted".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// TransientError wraps a failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// decodeError builds an APIError from an error envelope. 429 and 5xx are transient.
func decodeError(status int, body []byte) error {
	var env struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		msg = env.Error
	}
	err := &APIError{Status: status, Code: env.Code, Message: msg}
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{err: err}
	}
	return err
}
