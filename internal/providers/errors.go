package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError wraps an upstream API failure with enough context to log
// and classify it.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Provider)
	if e.Model != "" {
		fmt.Fprintf(&b, " (%s)", e.Model)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " [%d]", e.StatusCode)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	} else {
		b.WriteString("request failed")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func wrapProviderError(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Model: model, Cause: err}
}

// isRetryable classifies transport failures worth another attempt: rate
// limits, 5xx responses, timeouts, and connection drops. Auth and
// validation failures are permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case 429, 408, 500, 502, 503, 504, 529:
			return true
		case 400, 401, 403, 404, 422:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "gateway timeout"):
		return true
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"):
		return true
	}
	return false
}
