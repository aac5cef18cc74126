/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package metrics derives progress, velocity, cycle-time, scope-change and
// forecast figures from a normalized Epic. Everything here is a pure function
// over immutable inputs: no I/O, no hidden state, safe to call concurrently.
package metrics

import (
    "math"
    "strings"
    "time"

    "github.com/HamedShams/epic-pulse/internal/domain"
)

type Options struct {
    VelocityLookbackWeeks int
    ForecastSkipWeekends  bool
    // Now is injectable for deterministic tests; defaults to time.Now.
    Now func() time.Time
}

func (o Options) now() time.Time {
    if o.Now != nil { return o.Now() }
    return time.Now()
}

func (o Options) lookback() int {
    if o.VelocityLookbackWeeks > 0 { return o.VelocityLookbackWeeks }
    return 4
}

// Compute derives all metrics for one Epic. baseline is the earliest persisted
// snapshot, used for scope change; pass nil when no baseline exists yet.
func Compute(epic domain.Epic, baseline *domain.Snapshot, opt Options) domain.EpicMetrics {
    var m domain.EpicMetrics
    children := epic.Children
    m.TotalIssues = len(children)
    for _, c := range children {
        if c.Bucket == domain.BucketClosed {
            m.CompletedIssues++
            if c.StoryPoints > 0 { m.CompletedSP += c.StoryPoints }
        } else if strings.Contains(strings.ToLower(c.Status), "blocked") {
            m.BlockedIssues++
        }
        if c.StoryPoints > 0 { m.TotalSP += c.StoryPoints } else { m.UnestimatedIssues++ }
    }
    m.OpenIssues = m.TotalIssues - m.CompletedIssues
    m.RemainingSP = m.TotalSP - m.CompletedSP

    m.ProgressPct = progress(m.CompletedSP, m.TotalSP, m.CompletedIssues, m.TotalIssues)
    m.CycleTimeDays = cycleTime(children)
    m.VelocitySPWeek = velocity(children, opt.lookback(), opt.now())
    m.ScopeChangePct = scopeChange(m.TotalSP, baseline)
    m.ForecastDate = forecast(m.RemainingSP, m.VelocitySPWeek, opt)
    return m
}

// progress combines the story-point ratio with the issue-count ratio so that
// both signals must agree for full credit: a closed count carried by large
// unestimated issues (or the reverse) earns only partial progress.
func progress(completedSP, totalSP float64, completedIssues, totalIssues int) float64 {
    if totalIssues == 0 { return 0 }
    issueRatio := float64(completedIssues) / float64(totalIssues)
    if totalSP == 0 { return clamp(issueRatio*100, 0, 100) }
    return clamp((completedSP/totalSP)*issueRatio*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
    if v < lo { return lo }
    if v > hi { return hi }
    return v
}

// cycleTime is the mean elapsed days from creation to resolution over closed
// issues. Mean rather than median, matching the reporting convention of the
// rest of the engine; documented here so it stays consistent.
func cycleTime(children []domain.Issue) domain.OptFloat {
    var sum float64
    var n int
    for _, c := range children {
        if c.Bucket != domain.BucketClosed || c.CreatedAt == nil || c.ResolvedAt == nil { continue }
        d := c.ResolvedAt.Sub(*c.CreatedAt).Hours() / 24
        if d < 0 { continue }
        sum += d
        n++
    }
    if n == 0 { return domain.UnavailableFloat("no closed issues with creation and resolution dates") }
    return domain.AvailableFloat(sum / float64(n))
}

// velocity is completed SP per week over the lookback window. It needs at
// least one closed issue resolved inside the window; a window with qualifying
// issues but zero points yields an available zero, which is a different fact
// from unavailable.
func velocity(children []domain.Issue, weeks int, now time.Time) domain.OptFloat {
    cutoff := now.Add(-time.Duration(weeks) * 7 * 24 * time.Hour)
    var sp float64
    var resolved int
    for _, c := range children {
        if c.Bucket != domain.BucketClosed || c.ResolvedAt == nil { continue }
        if c.ResolvedAt.Before(cutoff) { continue }
        resolved++
        sp += c.StoryPoints
    }
    if resolved == 0 { return domain.UnavailableFloat("no issues resolved in lookback window") }
    return domain.AvailableFloat(sp / float64(weeks))
}

// scopeChange is the relative change in total estimated SP against the
// earliest observed snapshot.
func scopeChange(totalSP float64, baseline *domain.Snapshot) domain.OptFloat {
    if baseline == nil { return domain.UnavailableFloat("no baseline snapshot") }
    if baseline.TotalSP <= 0 { return domain.UnavailableFloat("baseline snapshot has no estimated points") }
    return domain.AvailableFloat((totalSP - baseline.TotalSP) / baseline.TotalSP * 100)
}

// forecast projects the completion date linearly: remaining points divided by
// velocity, added to today either as calendar days or as working days when
// weekends are skipped.
func forecast(remainingSP float64, vel domain.OptFloat, opt Options) domain.OptDate {
    if remainingSP <= 0 { return domain.UnavailableDate("no remaining work") }
    if !vel.Valid { return domain.UnavailableDate("velocity unavailable") }
    if vel.Value <= 0 { return domain.UnavailableDate("velocity is zero") }
    weeks := remainingSP / vel.Value
    today := dateOf(opt.now())
    if opt.ForecastSkipWeekends {
        return domain.AvailableDate(addWorkdays(today, int(math.Ceil(weeks*5))))
    }
    return domain.AvailableDate(today.AddDate(0, 0, int(math.Ceil(weeks*7))))
}

func addWorkdays(d time.Time, n int) time.Time {
    for n > 0 {
        d = d.AddDate(0, 0, 1)
        if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday { n-- }
    }
    return d
}

func dateOf(t time.Time) time.Time {
    t = t.UTC()
    return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
