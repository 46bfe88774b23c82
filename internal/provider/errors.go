package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ProviderError classifies failures from an external telephony or speech provider.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	// Code is the provider's own error code when it sends one.
	Code      int
	Message   string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	head := "provider error"
	if e.Provider != "" {
		head = e.Provider
		if e.Operation != "" {
			head += " " + e.Operation
		}
	}
	parts = append(parts, head)

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the failure may succeed if tried again later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func transportError(provider, operation string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Message:   "request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func statusError(provider, operation string, statusCode, code int, message string) *ProviderError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
