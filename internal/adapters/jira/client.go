/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/rs/zerolog"
)

// Client issues single requests against the Jira REST API with retry/backoff
// on throttling and transient failure. It holds no locks; each call's backoff
// sleep is local to that call, so concurrent use never serializes on a retry.
type Client struct {
    baseURL string
    token   string
    basic   string
    user    string
    pass    string
    http    *http.Client
    log     zerolog.Logger
    apiVer  string
    policy  BackoffPolicy

    // sleep is swappable in tests; defaults to a ctx-aware timer wait.
    sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    policy := DefaultBackoffPolicy()
    if cfg.MaxRetryAttempts > 0 { policy.MaxAttempts = cfg.MaxRetryAttempts }
    if cfg.RateLimitBaseDelay > 0 { policy.Base = cfg.RateLimitBaseDelay }
    if cfg.RateLimitMaxDelay > 0 { policy.Max = cfg.RateLimitMaxDelay }
    if cfg.TransientBaseDelay > 0 { policy.TransientBase = cfg.TransientBaseDelay }
    if cfg.TransientMaxDelay > 0 { policy.TransientMax = cfg.TransientMaxDelay }
    return &Client{
        baseURL: cfg.JiraBaseURL,
        token:   cfg.JiraPAT,
        basic:   getenvBasic(),
        user:    cfg.JiraUsername,
        pass:    cfg.JiraPassword,
        http:    &http.Client{ Timeout: cfg.HTTPTimeout },
        log:     log,
        apiVer:  cfg.JiraAPIVersion,
        policy:  policy,
        sleep:   sleepCtx,
    }
}

// getenvBasic reads JIRA_BASIC_AUTH from environment if present (format: user:pass base64), optional
func getenvBasic() string {
    v := ""
    if s := strings.TrimSpace(os.Getenv("JIRA_BASIC_AUTH")); s != "" { v = s }
    return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func (c *Client) apiURL(path string, q url.Values) string {
    base := strings.TrimRight(c.baseURL, "/")
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := base + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

func (c *Client) authorize(req *http.Request) {
    if c.token != "" {
        req.Header.Set("Authorization", "Bearer "+c.token)
    } else if c.user != "" && c.pass != "" {
        req.SetBasicAuth(c.user, c.pass)
    } else if c.basic != "" {
        req.Header.Set("Authorization", "Basic "+c.basic)
    }
}

// retryAfter parses the server's Retry-After header (seconds form only).
func retryAfter(resp *http.Response) time.Duration {
    v := strings.TrimSpace(resp.Header.Get("Retry-After"))
    if v == "" { return 0 }
    secs, err := strconv.Atoi(v)
    if err != nil || secs <= 0 { return 0 }
    return time.Duration(secs) * time.Second
}

// doJSON executes one logical request. 429 retries with the rate-limit
// backoff honoring Retry-After; network errors and 5xx retry with the
// shorter transient backoff; 401/403 and other 4xx fail immediately.
func (c *Client) doJSON(ctx context.Context, method, u string, body any) (map[string]any, error) {
    if c.baseURL == "" { return nil, errors.New("jira: empty baseURL") }
    var payload []byte
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return nil, err }
        payload = b
    }
    rateAttempts := 0
    transientAttempts := 0
    for {
        var r io.Reader
        if payload != nil { r = strings.NewReader(string(payload)) }
        req, err := http.NewRequestWithContext(ctx, method, u, r)
        if err != nil { return nil, err }
        if payload != nil { req.Header.Set("Content-Type", "application/json") }
        c.authorize(req)

        resp, err := c.http.Do(req)
        if err != nil {
            if ctx.Err() != nil { return nil, ctx.Err() }
            transientAttempts++
            if transientAttempts >= c.policy.MaxAttempts { return nil, &TransientError{Err: err} }
            delay := c.policy.Delay(transientAttempts-1, FailureTransient, 0)
            c.log.Warn().Err(err).Dur("delay", delay).Msg("jira: transient error, retrying")
            if err := c.sleep(ctx, delay); err != nil { return nil, err }
            continue
        }

        switch {
        case resp.StatusCode == http.StatusTooManyRequests:
            hint := retryAfter(resp)
            drain(resp)
            rateAttempts++
            if rateAttempts >= c.policy.MaxAttempts {
                return nil, &RateLimitExceededError{Attempts: rateAttempts}
            }
            delay := c.policy.Delay(rateAttempts-1, FailureRateLimit, hint)
            c.log.Warn().Dur("delay", delay).Int("attempt", rateAttempts).Msg("jira: rate limited, backing off")
            if err := c.sleep(ctx, delay); err != nil { return nil, err }
            continue
        case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
            status := resp.StatusCode
            drain(resp)
            return nil, &AuthError{Status: status}
        case resp.StatusCode >= 500:
            status := resp.StatusCode
            b := drain(resp)
            transientAttempts++
            if transientAttempts >= c.policy.MaxAttempts {
                return nil, &TransientError{Err: fmt.Errorf("jira api status=%d body=%s", status, b)}
            }
            delay := c.policy.Delay(transientAttempts-1, FailureTransient, 0)
            c.log.Warn().Int("status", status).Dur("delay", delay).Msg("jira: server error, retrying")
            if err := c.sleep(ctx, delay); err != nil { return nil, err }
            continue
        case resp.StatusCode >= 400:
            status := resp.StatusCode
            b := drain(resp)
            return nil, &RequestError{Status: status, Body: b}
        }

        var out map[string]any
        err = json.NewDecoder(resp.Body).Decode(&out)
        resp.Body.Close()
        if err != nil { return nil, err }
        return out, nil
    }
}

func drain(resp *http.Response) string {
    b, _ := io.ReadAll(resp.Body)
    resp.Body.Close()
    return strings.TrimSpace(string(b))
}

// SearchIssues runs a JQL search with offset pagination parameters.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, max int) (map[string]any, error) {
    if jql == "" { return nil, errors.New("jira: empty jql") }
    if c.apiVer == "2" {
        q := url.Values{}
        q.Set("jql", jql)
        if startAt > 0 { q.Set("startAt", fmt.Sprint(startAt)) }
        if max > 0 { q.Set("maxResults", fmt.Sprint(max)) }
        q.Set("fields", "*all")
        u := c.apiURL("/rest/api/2/search", q)
        return c.doJSON(ctx, http.MethodGet, u, nil)
    }
    // default to v3
    body := map[string]any{"jql": jql, "startAt": startAt, "maxResults": max, "fields": []string{"*all"}}
    u := c.apiURL("/rest/api/3/search", nil)
    return c.doJSON(ctx, http.MethodPost, u, body)
}

// Myself validates the authenticated session and returns the user record.
func (c *Client) Myself(ctx context.Context) (map[string]any, error) {
    path := "/rest/api/3/myself"
    if c.apiVer == "2" { path = "/rest/api/2/myself" }
    return c.doJSON(ctx, http.MethodGet, c.apiURL(path, nil), nil)
}

// Fields lists all fields (for discovering story-point and epic-link custom field ids)
func (c *Client) Fields(ctx context.Context) ([]map[string]any, error) {
    u := c.apiURL("/rest/api/2/field", nil)
    // This endpoint returns an array, so bypass doJSON's map decode. That also
    // skips the retry loop: a throttled or flaky response here surfaces
    // immediately, acceptable for a once-at-startup call.
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return nil, err }
    c.authorize(req)
    resp, err := c.http.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
        return nil, &AuthError{Status: resp.StatusCode}
    }
    if resp.StatusCode >= 300 {
        b, _ := io.ReadAll(resp.Body)
        return nil, &RequestError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
    }
    var out []map[string]any
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
    return out, nil
}
