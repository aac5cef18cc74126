package jira

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/rs/zerolog"
)

func testClient(t *testing.T, baseURL string) (*Client, *[]time.Duration) {
    t.Helper()
    cfg := config.Config{
        JiraBaseURL:        baseURL,
        JiraAPIVersion:     "2",
        HTTPTimeout:        5 * time.Second,
        MaxRetryAttempts:   4,
        RateLimitBaseDelay: time.Second,
        RateLimitMaxDelay:  time.Minute,
        TransientBaseDelay: 10 * time.Millisecond,
        TransientMaxDelay:  100 * time.Millisecond,
    }
    c := NewClient(cfg, zerolog.Nop())
    c.policy.Jitter = func(time.Duration) time.Duration { return 0 }
    var slept []time.Duration
    c.sleep = func(ctx context.Context, d time.Duration) error {
        slept = append(slept, d)
        return nil
    }
    return c, &slept
}

func TestSearchRetriesOn429ThenSucceeds(t *testing.T) {
    calls := 0
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls++
        if calls <= 2 {
            w.WriteHeader(http.StatusTooManyRequests)
            return
        }
        w.Write([]byte(`{"total": 0, "issues": []}`))
    }))
    defer srv.Close()

    c, slept := testClient(t, srv.URL)
    page, err := c.SearchIssues(context.Background(), "key = EP-1", 0, 50)
    if err != nil {
        t.Fatalf("search failed: %v", err)
    }
    if page == nil {
        t.Fatal("nil page")
    }
    if calls != 3 {
        t.Fatalf("calls=%d want 3", calls)
    }
    if len(*slept) != 2 {
        t.Fatalf("slept %d times, want exactly 2", len(*slept))
    }
    if (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
        t.Fatalf("delays=%v want [1s 2s]", *slept)
    }
}

func TestSearchHonorsRetryAfter(t *testing.T) {
    calls := 0
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls++
        if calls == 1 {
            w.Header().Set("Retry-After", "7")
            w.WriteHeader(http.StatusTooManyRequests)
            return
        }
        w.Write([]byte(`{"total": 0, "issues": []}`))
    }))
    defer srv.Close()

    c, slept := testClient(t, srv.URL)
    if _, err := c.SearchIssues(context.Background(), "key = EP-1", 0, 50); err != nil {
        t.Fatalf("search failed: %v", err)
    }
    if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
        t.Fatalf("delays=%v want [7s]", *slept)
    }
}

func TestSearchRateLimitBudgetExhausted(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTooManyRequests)
    }))
    defer srv.Close()

    c, _ := testClient(t, srv.URL)
    _, err := c.SearchIssues(context.Background(), "key = EP-1", 0, 50)
    var rle *RateLimitExceededError
    if !errors.As(err, &rle) {
        t.Fatalf("want RateLimitExceededError, got %v", err)
    }
    if rle.Attempts != 4 {
        t.Fatalf("attempts=%d want 4", rle.Attempts)
    }
}

func TestSearchAuthErrorNotRetried(t *testing.T) {
    calls := 0
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls++
        w.WriteHeader(http.StatusUnauthorized)
    }))
    defer srv.Close()

    c, slept := testClient(t, srv.URL)
    _, err := c.SearchIssues(context.Background(), "key = EP-1", 0, 50)
    var ae *AuthError
    if !errors.As(err, &ae) {
        t.Fatalf("want AuthError, got %v", err)
    }
    if calls != 1 || len(*slept) != 0 {
        t.Fatalf("auth failure was retried: calls=%d slept=%v", calls, *slept)
    }
}

func TestSearchClientErrorNotRetried(t *testing.T) {
    calls := 0
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls++
        w.WriteHeader(http.StatusBadRequest)
        w.Write([]byte(`{"errorMessages":["bad jql"]}`))
    }))
    defer srv.Close()

    c, _ := testClient(t, srv.URL)
    _, err := c.SearchIssues(context.Background(), "nonsense", 0, 50)
    var re *RequestError
    if !errors.As(err, &re) {
        t.Fatalf("want RequestError, got %v", err)
    }
    if re.Status != http.StatusBadRequest || calls != 1 {
        t.Fatalf("status=%d calls=%d", re.Status, calls)
    }
}

func TestSearchRetriesServerErrors(t *testing.T) {
    calls := 0
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls++
        if calls == 1 {
            w.WriteHeader(http.StatusBadGateway)
            return
        }
        w.Write([]byte(`{"total": 0, "issues": []}`))
    }))
    defer srv.Close()

    c, slept := testClient(t, srv.URL)
    if _, err := c.SearchIssues(context.Background(), "key = EP-1", 0, 50); err != nil {
        t.Fatalf("search failed: %v", err)
    }
    if calls != 2 || len(*slept) != 1 {
        t.Fatalf("calls=%d slept=%v", calls, *slept)
    }
    if (*slept)[0] != 10*time.Millisecond {
        t.Fatalf("transient delay=%v want 10ms", (*slept)[0])
    }
}
