package jira

import "fmt"

// AuthError is fatal for the current session. The transport never retries it;
// the caller is expected to trigger a re-login upstream.
type AuthError struct {
    Status int
}

func (e *AuthError) Error() string { return fmt.Sprintf("jira: authentication failed (status=%d)", e.Status) }

// RequestError is a non-retryable HTTP failure (4xx other than 429/401/403).
type RequestError struct {
    Status int
    Body   string
}

func (e *RequestError) Error() string { return fmt.Sprintf("jira: request failed status=%d body=%s", e.Status, e.Body) }

// RateLimitExceededError is returned after the retry budget for 429 responses
// is exhausted. Distinguishable so callers can suggest trying again later.
type RateLimitExceededError struct {
    Attempts int
}

func (e *RateLimitExceededError) Error() string {
    return fmt.Sprintf("jira: rate limit retries exhausted after %d attempts", e.Attempts)
}

// TransientError wraps a network failure or 5xx response once the retry
// budget is spent.
type TransientError struct {
    Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("jira: transient failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }
