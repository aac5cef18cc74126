package domain

import (
    "encoding/json"
    "time"
)

// StatusBucket is the canonical three-state status every tracker status maps into.
type StatusBucket string

const (
    BucketOpen       StatusBucket = "Open"
    BucketInProgress StatusBucket = "InProgress"
    BucketClosed     StatusBucket = "Closed"
)

// Issue is a normalized child of an Epic. Immutable once constructed;
// a re-fetch produces a new value.
type Issue struct {
    Key         string       `json:"key"`
    Summary     string       `json:"summary"`
    Status      string       `json:"status"`
    Bucket      StatusBucket `json:"bucket"`
    Type        string       `json:"type"`
    StoryPoints float64      `json:"story_points"`
    CreatedAt   *time.Time   `json:"created_at"`
    ResolvedAt  *time.Time   `json:"resolved_at"`
    Assignee    string       `json:"assignee,omitempty"`
    EpicKey     string       `json:"epic_key"`
}

// Epic owns its child issue list; children hold only the back-reference key.
type Epic struct {
    Key       string    `json:"key"`
    Summary   string    `json:"summary"`
    Status    string    `json:"status"`
    Assignee  string    `json:"assignee,omitempty"`
    Labels    []string  `json:"labels,omitempty"`
    Children  []Issue   `json:"children"`
    FetchedAt time.Time `json:"fetched_at"`
}

// OptFloat is an explicitly-absent metric value. A zero value and an
// unknown value are different facts; callers must check Valid.
type OptFloat struct {
    Value  float64
    Valid  bool
    Reason string
}

func AvailableFloat(v float64) OptFloat    { return OptFloat{Value: v, Valid: true} }
func UnavailableFloat(why string) OptFloat { return OptFloat{Reason: why} }

func (o OptFloat) MarshalJSON() ([]byte, error) {
    if !o.Valid {
        return json.Marshal(map[string]any{"available": false, "reason": o.Reason})
    }
    return json.Marshal(map[string]any{"available": true, "value": o.Value})
}

// OptDate is an explicitly-absent calendar date.
type OptDate struct {
    Value  time.Time
    Valid  bool
    Reason string
}

func AvailableDate(d time.Time) OptDate  { return OptDate{Value: d, Valid: true} }
func UnavailableDate(why string) OptDate { return OptDate{Reason: why} }

func (o OptDate) MarshalJSON() ([]byte, error) {
    if !o.Valid {
        return json.Marshal(map[string]any{"available": false, "reason": o.Reason})
    }
    return json.Marshal(map[string]any{"available": true, "value": o.Value.Format("2006-01-02")})
}

// EpicMetrics is derived from an Epic on demand and never persisted as
// source of truth.
type EpicMetrics struct {
    TotalIssues       int `json:"total_issues"`
    CompletedIssues   int `json:"completed_issues"`
    OpenIssues        int `json:"open_issues"`
    UnestimatedIssues int `json:"unestimated_issues"`
    BlockedIssues     int `json:"blocked_issues"`

    TotalSP     float64 `json:"total_sp"`
    CompletedSP float64 `json:"completed_sp"`
    RemainingSP float64 `json:"remaining_sp"`

    ProgressPct    float64  `json:"progress_pct"`
    CycleTimeDays  OptFloat `json:"cycle_time_days"`
    VelocitySPWeek OptFloat `json:"velocity_sp_per_week"`
    ScopeChangePct OptFloat `json:"scope_change_pct"`
    ForecastDate   OptDate  `json:"forecast_date"`
}

// TimeSeriesPoint is one calendar day in an Epic's daily trend series.
type TimeSeriesPoint struct {
    Date                  time.Time `json:"date"`
    TotalSP               float64   `json:"total_sp"`
    CompletedSP           float64   `json:"completed_sp"`
    CumulativeClosed      int       `json:"cumulative_closed"`
    CumulativeUnestimated int       `json:"cumulative_unestimated"`
    IsWeekend             bool      `json:"is_weekend"`
}

// Snapshot records an Epic's totals at fetch time. The earliest snapshot is
// the baseline for scope-change computation.
type Snapshot struct {
    EpicKey      string    `json:"epic_key"`
    TakenAt      time.Time `json:"taken_at"`
    TotalSP      float64   `json:"total_sp"`
    CompletedSP  float64   `json:"completed_sp"`
    TotalIssues  int       `json:"total_issues"`
    ClosedIssues int       `json:"closed_issues"`
}
