package metrics

import (
    "time"

    "github.com/HamedShams/epic-pulse/internal/domain"
)

// BuildTimeSeries reconstructs the Epic's daily trend series from issue
// lifecycle timestamps, spanning from the earliest creation day through asOf
// inclusive. Reconstruction is a step function: an issue contributes to the
// totals from its creation day onward and to the completed figures from its
// resolution day onward. Exactly one point per calendar day, weekends flagged
// rather than skipped; the cumulative closed count is non-decreasing by
// construction.
func BuildTimeSeries(epic domain.Epic, asOf time.Time) []domain.TimeSeriesPoint {
    type dated struct {
        created  time.Time
        resolved *time.Time
        sp       float64
    }
    var issues []dated
    var first time.Time
    for _, c := range epic.Children {
        if c.CreatedAt == nil { continue }
        d := dated{created: *c.CreatedAt, sp: c.StoryPoints}
        if c.Bucket == domain.BucketClosed && c.ResolvedAt != nil { d.resolved = c.ResolvedAt }
        issues = append(issues, d)
        if first.IsZero() || d.created.Before(first) { first = d.created }
    }
    if len(issues) == 0 { return nil }

    start := dateOf(first)
    end := dateOf(asOf)
    if end.Before(start) { end = start }

    var out []domain.TimeSeriesPoint
    for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
        dayEnd := day.AddDate(0, 0, 1)
        p := domain.TimeSeriesPoint{
            Date:      day,
            IsWeekend: day.Weekday() == time.Saturday || day.Weekday() == time.Sunday,
        }
        for _, it := range issues {
            if !it.created.Before(dayEnd) { continue }
            p.TotalSP += it.sp
            if it.sp <= 0 { p.CumulativeUnestimated++ }
            if it.resolved != nil && it.resolved.Before(dayEnd) {
                p.CompletedSP += it.sp
                p.CumulativeClosed++
            }
        }
        out = append(out, p)
    }
    return out
}
