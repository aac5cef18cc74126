package metrics

import (
    "testing"
    "time"

    "github.com/HamedShams/epic-pulse/internal/domain"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func testOpts() Options {
    return Options{VelocityLookbackWeeks: 4, Now: func() time.Time { return testNow }}
}

func ts(s string) *time.Time {
    t, err := time.Parse("2006-01-02T15:04:05Z", s)
    if err != nil {
        panic(err)
    }
    return &t
}

func closedIssue(key string, sp float64, created, resolved string) domain.Issue {
    return domain.Issue{Key: key, Status: "Done", Bucket: domain.BucketClosed, StoryPoints: sp, CreatedAt: ts(created), ResolvedAt: ts(resolved)}
}

func openIssue(key string, sp float64, created string) domain.Issue {
    return domain.Issue{Key: key, Status: "To Do", Bucket: domain.BucketOpen, StoryPoints: sp, CreatedAt: ts(created)}
}

func epicOf(children ...domain.Issue) domain.Epic {
    return domain.Epic{Key: "EP-1", Children: children, FetchedAt: testNow}
}

func TestComputeCounts(t *testing.T) {
    epic := epicOf(
        closedIssue("EP-2", 5, "2026-08-01T09:00:00Z", "2026-08-10T09:00:00Z"),
        openIssue("EP-3", 3, "2026-08-02T09:00:00Z"),
        openIssue("EP-4", 0, "2026-08-03T09:00:00Z"),
        domain.Issue{Key: "EP-5", Status: "Blocked", Bucket: domain.BucketInProgress, StoryPoints: 2, CreatedAt: ts("2026-08-04T09:00:00Z")},
    )
    m := Compute(epic, nil, testOpts())
    assert.Equal(t, 4, m.TotalIssues)
    assert.Equal(t, 1, m.CompletedIssues)
    assert.Equal(t, 3, m.OpenIssues)
    assert.Equal(t, 1, m.UnestimatedIssues)
    assert.Equal(t, 1, m.BlockedIssues)
    assert.Equal(t, 10.0, m.TotalSP)
    assert.Equal(t, 5.0, m.CompletedSP)
    assert.Equal(t, 5.0, m.RemainingSP)
}

func TestProgressDualRatio(t *testing.T) {
    // half the points done and half the issues closed: 0.5 * 0.5 = 25%
    assert.Equal(t, 25.0, progress(5, 10, 1, 2))
    // all points and all issues done
    assert.Equal(t, 100.0, progress(10, 10, 2, 2))
    // closed count alone earns nothing while estimated work is untouched
    assert.Equal(t, 0.0, progress(0, 10, 1, 2))
}

func TestProgressCountFallbackWhenNoEstimates(t *testing.T) {
    // no points anywhere: fall back to the pure count ratio
    assert.Equal(t, 50.0, progress(0, 0, 2, 4))
}

func TestProgressEmptyEpic(t *testing.T) {
    assert.Equal(t, 0.0, progress(0, 0, 0, 0))
}

func TestProgressClamped(t *testing.T) {
    // completed above total can happen with stale estimates
    assert.Equal(t, 100.0, progress(20, 10, 2, 2))
}

func TestCycleTimeMean(t *testing.T) {
    epic := epicOf(
        closedIssue("EP-2", 1, "2026-08-01T00:00:00Z", "2026-08-06T00:00:00Z"),  // 5 days
        closedIssue("EP-3", 1, "2026-08-01T00:00:00Z", "2026-08-11T00:00:00Z"),  // 10 days
        openIssue("EP-4", 1, "2026-08-01T00:00:00Z"),
    )
    m := Compute(epic, nil, testOpts())
    require.True(t, m.CycleTimeDays.Valid)
    assert.InDelta(t, 7.5, m.CycleTimeDays.Value, 1e-9)
}

func TestCycleTimeUnavailableWithoutClosedIssues(t *testing.T) {
    m := Compute(epicOf(openIssue("EP-2", 1, "2026-08-01T00:00:00Z")), nil, testOpts())
    assert.False(t, m.CycleTimeDays.Valid)
    assert.NotEmpty(t, m.CycleTimeDays.Reason)
}

func TestVelocityOverLookback(t *testing.T) {
    epic := epicOf(
        closedIssue("EP-2", 8, "2026-08-01T00:00:00Z", "2026-08-20T00:00:00Z"),
        closedIssue("EP-3", 4, "2026-08-01T00:00:00Z", "2026-08-25T00:00:00Z"),
        // resolved before the 4-week window, must not count
        closedIssue("EP-4", 40, "2026-05-01T00:00:00Z", "2026-06-01T00:00:00Z"),
    )
    m := Compute(epic, nil, testOpts())
    require.True(t, m.VelocitySPWeek.Valid)
    assert.InDelta(t, 3.0, m.VelocitySPWeek.Value, 1e-9)
}

func TestVelocityUnavailableOutsideWindow(t *testing.T) {
    epic := epicOf(closedIssue("EP-2", 5, "2026-05-01T00:00:00Z", "2026-06-01T00:00:00Z"))
    m := Compute(epic, nil, testOpts())
    assert.False(t, m.VelocitySPWeek.Valid)
}

func TestVelocityZeroIsAvailable(t *testing.T) {
    // a closed unestimated issue inside the window: velocity is known to be zero
    epic := epicOf(
        closedIssue("EP-2", 0, "2026-08-01T00:00:00Z", "2026-08-20T00:00:00Z"),
        openIssue("EP-3", 5, "2026-08-01T00:00:00Z"),
    )
    m := Compute(epic, nil, testOpts())
    require.True(t, m.VelocitySPWeek.Valid)
    assert.Equal(t, 0.0, m.VelocitySPWeek.Value)
    // and the forecast degrades gracefully rather than dividing by zero
    assert.False(t, m.ForecastDate.Valid)
    assert.Equal(t, "velocity is zero", m.ForecastDate.Reason)
}

func TestScopeChangeAgainstBaseline(t *testing.T) {
    epic := epicOf(
        openIssue("EP-2", 8, "2026-08-01T00:00:00Z"),
        openIssue("EP-3", 4, "2026-08-02T00:00:00Z"),
    )
    baseline := &domain.Snapshot{EpicKey: "EP-1", TotalSP: 10}
    m := Compute(epic, baseline, testOpts())
    require.True(t, m.ScopeChangePct.Valid)
    assert.InDelta(t, 20.0, m.ScopeChangePct.Value, 1e-9)
}

func TestScopeChangeUnavailableWithoutBaseline(t *testing.T) {
    m := Compute(epicOf(openIssue("EP-2", 8, "2026-08-01T00:00:00Z")), nil, testOpts())
    assert.False(t, m.ScopeChangePct.Valid)
    assert.Equal(t, "no baseline snapshot", m.ScopeChangePct.Reason)
}

func TestScopeChangeUnavailableWithUnestimatedBaseline(t *testing.T) {
    baseline := &domain.Snapshot{EpicKey: "EP-1", TotalSP: 0}
    m := Compute(epicOf(openIssue("EP-2", 8, "2026-08-01T00:00:00Z")), baseline, testOpts())
    assert.False(t, m.ScopeChangePct.Valid)
}

func TestForecastLinearProjection(t *testing.T) {
    // velocity 2 SP/week, 6 SP remaining: 3 weeks out
    epic := epicOf(
        closedIssue("EP-2", 8, "2026-08-01T00:00:00Z", "2026-08-20T00:00:00Z"),
        openIssue("EP-3", 6, "2026-08-01T00:00:00Z"),
    )
    m := Compute(epic, nil, testOpts())
    require.True(t, m.ForecastDate.Valid)
    assert.Equal(t, time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC), m.ForecastDate.Value)
}

func TestForecastSkipWeekends(t *testing.T) {
    epic := epicOf(
        closedIssue("EP-2", 8, "2026-08-01T00:00:00Z", "2026-08-20T00:00:00Z"),
        openIssue("EP-3", 6, "2026-08-01T00:00:00Z"),
    )
    opt := testOpts()
    opt.ForecastSkipWeekends = true
    m := Compute(epic, nil, opt)
    require.True(t, m.ForecastDate.Valid)
    // 15 working days from Mon 2026-08-31 is Mon 2026-09-21
    assert.Equal(t, time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC), m.ForecastDate.Value)
    assert.NotContains(t, []time.Weekday{time.Saturday, time.Sunday}, m.ForecastDate.Value.Weekday())
}

func TestForecastUnavailableWhenDone(t *testing.T) {
    epic := epicOf(closedIssue("EP-2", 8, "2026-08-01T00:00:00Z", "2026-08-20T00:00:00Z"))
    m := Compute(epic, nil, testOpts())
    assert.False(t, m.ForecastDate.Valid)
    assert.Equal(t, "no remaining work", m.ForecastDate.Reason)
}

func TestForecastUnavailableWithoutVelocity(t *testing.T) {
    m := Compute(epicOf(openIssue("EP-2", 5, "2026-08-01T00:00:00Z")), nil, testOpts())
    assert.False(t, m.ForecastDate.Valid)
    assert.Equal(t, "velocity unavailable", m.ForecastDate.Reason)
}
