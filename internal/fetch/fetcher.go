/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package fetch

import (
    "context"
    "errors"
    "fmt"

    "github.com/rs/zerolog"
)

const defaultPageSize = 100

// ErrEpicNotFound is returned when the Epic key does not resolve to an issue.
var ErrEpicNotFound = errors.New("fetch: epic not found")

// RawIssue is one undecoded issue record as the tracker returned it.
type RawIssue = map[string]any

// Transport is the single-request seam the fetcher drives page by page.
type Transport interface {
    SearchIssues(ctx context.Context, jql string, startAt, max int) (map[string]any, error)
}

// Fetcher retrieves the full child-issue set of an Epic. Pagination within
// one Epic is strictly sequential: every page depends on the running offset.
// A mid-fetch failure fails the whole operation; partial Epics are unsafe
// for metrics computation.
type Fetcher struct {
    tp       Transport
    log      zerolog.Logger
    pageSize int
}

func New(tp Transport, log zerolog.Logger) *Fetcher {
    return &Fetcher{tp: tp, log: log, pageSize: defaultPageSize}
}

// FetchEpic returns the Epic's own record.
func (f *Fetcher) FetchEpic(ctx context.Context, epicKey string) (RawIssue, error) {
    if epicKey == "" { return nil, errors.New("fetch: empty epic key") }
    page, err := f.tp.SearchIssues(ctx, fmt.Sprintf("key = %s", epicKey), 0, 1)
    if err != nil { return nil, fmt.Errorf("fetch epic %s: %w", epicKey, err) }
    issues := pageIssues(page)
    if len(issues) == 0 { return nil, fmt.Errorf("%w: %s", ErrEpicNotFound, epicKey) }
    return issues[0], nil
}

// FetchEpicIssues pages through all children of an Epic in the tracker's
// default order. The loop is an explicit state machine: it keeps fetching
// until the cumulative count reaches the total reported by the first page,
// or until a short page signals the end defensively (the reported total can
// be stale). Duplicate keys across pages are dropped. Cancellation is
// checked between pages, never mid-request.
func (f *Fetcher) FetchEpicIssues(ctx context.Context, epicKey, epicLinkField string) ([]RawIssue, error) {
    if epicKey == "" { return nil, errors.New("fetch: empty epic key") }
    jql := fmt.Sprintf("%q = %s ORDER BY created ASC", epicLinkField, epicKey)

    var out []RawIssue
    seen := map[string]struct{}{}
    startAt := 0
    total := -1 // authoritative count from the first page

    for {
        if err := ctx.Err(); err != nil {
            return nil, fmt.Errorf("fetch %s cancelled: %w", epicKey, err)
        }
        page, err := f.tp.SearchIssues(ctx, jql, startAt, f.pageSize)
        if err != nil {
            return nil, fmt.Errorf("fetch %s page at %d: %w", epicKey, startAt, err)
        }
        issues := pageIssues(page)
        if total < 0 {
            total = pageTotal(page, len(issues))
        }
        for _, raw := range issues {
            key, _ := raw["key"].(string)
            if key != "" {
                if _, dup := seen[key]; dup { continue }
                seen[key] = struct{}{}
            }
            out = append(out, raw)
        }
        startAt += len(issues)
        if len(issues) < f.pageSize || startAt >= total {
            break
        }
    }
    f.log.Debug().Str("epic", epicKey).Int("issues", len(out)).Int("reported_total", total).Msg("fetch: epic children complete")
    return out, nil
}

func pageIssues(page map[string]any) []RawIssue {
    arr, _ := page["issues"].([]any)
    out := make([]RawIssue, 0, len(arr))
    for _, it := range arr {
        if im, _ := it.(map[string]any); im != nil { out = append(out, im) }
    }
    return out
}

func pageTotal(page map[string]any, fallback int) int {
    if v, ok := page["total"].(float64); ok && v >= 0 { return int(v) }
    return fallback
}
