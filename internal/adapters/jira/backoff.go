package jira

import (
    "math/rand"
    "time"
)

// FailureKind classifies a retryable failure for backoff selection.
type FailureKind int

const (
    FailureRateLimit FailureKind = iota // 429
    FailureTransient                    // network error or 5xx
)

// BackoffPolicy computes retry delays as a pure function of
// (attempt, failure kind, server hint). It performs no I/O so it can be
// tested without network mocking.
type BackoffPolicy struct {
    Base          time.Duration // rate-limit base delay
    Max           time.Duration // rate-limit delay cap
    TransientBase time.Duration
    TransientMax  time.Duration
    MaxAttempts   int

    // Jitter returns a random duration in [0, max). Overridable in tests.
    Jitter func(max time.Duration) time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
    return BackoffPolicy{
        Base:          3 * time.Second,
        Max:           2 * time.Minute,
        TransientBase: 500 * time.Millisecond,
        TransientMax:  10 * time.Second,
        MaxAttempts:   6,
    }
}

// Delay returns the sleep before retry number attempt (0-based). A positive
// serverHint (Retry-After) overrides the computed rate-limit delay. Jitter is
// bounded by the base so the sequence stays non-decreasing up to the cap.
func (p BackoffPolicy) Delay(attempt int, kind FailureKind, serverHint time.Duration) time.Duration {
    base, cap := p.Base, p.Max
    if kind == FailureTransient {
        base, cap = p.TransientBase, p.TransientMax
    }
    if kind == FailureRateLimit && serverHint > 0 {
        if serverHint > cap { return cap }
        return serverHint
    }
    if attempt < 0 { attempt = 0 }
    d := base << uint(attempt)
    if d <= 0 || d >= cap { return cap }
    if j := p.jitter(base); d+j < cap { d += j }
    return d
}

func (p BackoffPolicy) jitter(max time.Duration) time.Duration {
    if p.Jitter != nil { return p.Jitter(max) }
    if max <= 0 { return 0 }
    return time.Duration(rand.Int63n(int64(max)))
}
