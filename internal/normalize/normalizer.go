package normalize

import (
    "fmt"
    "strings"
    "time"

    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/HamedShams/epic-pulse/internal/domain"
)

// Error reports one raw record that could not be mapped into the domain
// model. The normalizer only reports; skip-vs-abort is the caller's policy.
type Error struct {
    Key    string
    Field  string
    Reason string
}

func (e *Error) Error() string {
    k := e.Key
    if k == "" { k = "<unknown>" }
    return fmt.Sprintf("normalize %s: field %q: %s", k, e.Field, e.Reason)
}

// Mapping resolves tracker-specific identifiers into the domain model.
type Mapping struct {
    StoryPointField string
    EpicLinkField   string
    buckets         map[string]domain.StatusBucket // lowercased status or category name
}

// NewMapping builds a Mapping from the configured field map. Status names are
// matched case-insensitively against both the raw status and its category.
func NewMapping(fm config.FieldMap) Mapping {
    m := Mapping{
        StoryPointField: fm.StoryPointField,
        EpicLinkField:   fm.EpicLinkField,
        buckets:         map[string]domain.StatusBucket{},
    }
    add := func(names []string, b domain.StatusBucket) {
        for _, n := range names {
            n = strings.ToLower(strings.TrimSpace(n))
            if n != "" { m.buckets[n] = b }
        }
    }
    add(fm.StatusBuckets["open"], domain.BucketOpen)
    add(fm.StatusBuckets["inprogress"], domain.BucketInProgress)
    add(fm.StatusBuckets["closed"], domain.BucketClosed)
    return m
}

// Bucket maps a raw status (or status-category) name to its canonical bucket.
func (m Mapping) Bucket(name string) (domain.StatusBucket, bool) {
    b, ok := m.buckets[strings.ToLower(strings.TrimSpace(name))]
    return b, ok
}

// Issue converts one raw tracker record into a domain Issue. Deterministic:
// the same record and mapping always yield the same value. Missing optional
// fields resolve to defaults (story points 0, assignee empty); a missing key
// or status, or a status outside the configured mapping, is an *Error.
func Issue(raw map[string]any, m Mapping, epicKey string) (domain.Issue, error) {
    key, _ := raw["key"].(string)
    if strings.TrimSpace(key) == "" {
        return domain.Issue{}, &Error{Field: "key", Reason: "missing required field"}
    }
    fields, _ := raw["fields"].(map[string]any)
    if fields == nil {
        return domain.Issue{}, &Error{Key: key, Field: "fields", Reason: "missing required field"}
    }

    statusName, categoryName := statusNames(fields)
    if statusName == "" {
        return domain.Issue{}, &Error{Key: key, Field: "status", Reason: "missing required field"}
    }
    bucket, ok := m.Bucket(statusName)
    if !ok {
        bucket, ok = m.Bucket(categoryName)
    }
    if !ok {
        return domain.Issue{}, &Error{Key: key, Field: "status", Reason: fmt.Sprintf("status %q not in configured bucket mapping", statusName)}
    }

    sp := storyPoints(fields, m.StoryPointField)
    if sp < 0 { sp = 0 }

    iss := domain.Issue{
        Key:         key,
        Summary:     toStrAny(fields["summary"]),
        Status:      statusName,
        Bucket:      bucket,
        StoryPoints: sp,
        CreatedAt:   parseTimeUTC(fields["created"]),
        ResolvedAt:  parseTimeUTC(fields["resolutiondate"]),
        EpicKey:     epicKey,
    }
    if tp, ok := fields["issuetype"].(map[string]any); ok { iss.Type = toStrAny(tp["name"]) }
    if as, ok := fields["assignee"].(map[string]any); ok { iss.Assignee = toStrAny(as["displayName"]) }
    // Resolution date only counts for closed issues.
    if iss.Bucket != domain.BucketClosed { iss.ResolvedAt = nil }
    return iss, nil
}

// Epic converts the Epic's own raw record. Children are attached by the caller.
func Epic(raw map[string]any, children []domain.Issue, fetchedAt time.Time) (domain.Epic, error) {
    key, _ := raw["key"].(string)
    if strings.TrimSpace(key) == "" {
        return domain.Epic{}, &Error{Field: "key", Reason: "missing required field"}
    }
    fields, _ := raw["fields"].(map[string]any)
    ep := domain.Epic{Key: key, Children: children, FetchedAt: fetchedAt}
    if fields != nil {
        ep.Summary = toStrAny(fields["summary"])
        if st, ok := fields["status"].(map[string]any); ok { ep.Status = toStrAny(st["name"]) }
        if as, ok := fields["assignee"].(map[string]any); ok { ep.Assignee = toStrAny(as["displayName"]) }
        if lv, ok := fields["labels"].([]any); ok {
            for _, x := range lv { if s, ok := x.(string); ok { ep.Labels = append(ep.Labels, s) } }
        }
    }
    return ep, nil
}

func statusNames(fields map[string]any) (status, category string) {
    st, _ := fields["status"].(map[string]any)
    if st == nil { return "", "" }
    status = toStrAny(st["name"])
    if cat, ok := st["statusCategory"].(map[string]any); ok { category = toStrAny(cat["name"]) }
    return status, category
}

// storyPoints reads the configured custom field, falling back to the common
// default id when the configured one is absent on this record.
func storyPoints(fields map[string]any, fieldID string) float64 {
    if v, ok := fields[fieldID].(float64); ok { return v }
    if v, ok := fields["customfield_10016"].(float64); ok { return v }
    return 0
}

func toStrAny(v any) string {
    if v == nil { return "" }
    if s, ok := v.(string); ok { return s }
    return fmt.Sprintf("%v", v)
}

func parseTimeUTC(v any) *time.Time {
    s, _ := v.(string)
    if s == "" { return nil }
    layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", "2006-01-02"}
    for _, l := range layouts {
        if t, err := time.Parse(l, s); err == nil {
            tt := t.UTC(); return &tt
        }
    }
    return nil
}
