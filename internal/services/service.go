/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/HamedShams/epic-pulse/internal/domain"
    "github.com/HamedShams/epic-pulse/internal/fetch"
    "github.com/HamedShams/epic-pulse/internal/metrics"
    "github.com/HamedShams/epic-pulse/internal/normalize"
    "github.com/HamedShams/epic-pulse/internal/repo"
    "github.com/rs/zerolog"
)

// EpicFetcher is the paging seam; fetch.Fetcher satisfies it.
type EpicFetcher interface {
    FetchEpic(ctx context.Context, epicKey string) (fetch.RawIssue, error)
    FetchEpicIssues(ctx context.Context, epicKey, epicLinkField string) ([]fetch.RawIssue, error)
}

// FieldSource lists the tracker's field definitions; jira.Client satisfies it.
type FieldSource interface {
    Fields(ctx context.Context) ([]map[string]any, error)
}

// Store persists snapshots and run accounting; repo.Repository satisfies it.
// A nil Store disables persistence (scope change stays unavailable).
type Store interface {
    InsertSnapshot(ctx context.Context, s domain.Snapshot) error
    EarliestSnapshot(ctx context.Context, epicKey string) (*domain.Snapshot, error)
    ListSnapshots(ctx context.Context, epicKey string) ([]domain.Snapshot, error)
    StartJobRun(ctx context.Context, epicsJSON string) (int64, error)
    FinishJobRun(ctx context.Context, id int64, epicsOK, epicsFailed, issuesFetched int, success bool, errStr string) error
    GetLastRun(ctx context.Context) (*repo.LastRun, error)
}

// Report is everything the chart/report collaborators consume for one Epic.
type Report struct {
    Epic     domain.Epic              `json:"epic"`
    Metrics  domain.EpicMetrics       `json:"metrics"`
    Series   []domain.TimeSeriesPoint `json:"series"`
    Warnings []string                 `json:"warnings,omitempty"`
}

type Service struct {
    cfg      config.Config
    log      zerolog.Logger
    store    Store
    fetcher  EpicFetcher
    fieldSrc FieldSource

    mu      sync.RWMutex
    mapping normalize.Mapping
}

func New(cfg config.Config, log zerolog.Logger, store Store, fetcher EpicFetcher, fieldSrc FieldSource, fm config.FieldMap) *Service {
    return &Service{cfg: cfg, log: log, store: store, fetcher: fetcher, fieldSrc: fieldSrc, mapping: normalize.NewMapping(fm)}
}

// SetFieldMap swaps the active field mapping; called by the config watcher.
func (s *Service) SetFieldMap(fm config.FieldMap) {
    s.mu.Lock()
    s.mapping = normalize.NewMapping(fm)
    s.mu.Unlock()
    s.log.Info().Str("sp_field", fm.StoryPointField).Msg("field mapping updated")
}

func (s *Service) mappingNow() normalize.Mapping {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.mapping
}

// DiscoverFields resolves custom field ids by display name when the configured
// ids do not exist on this tracker instance. Instances disagree on ids for the
// same fields, so a stale default is corrected from the live field list.
func (s *Service) DiscoverFields(ctx context.Context) error {
    if s.fieldSrc == nil { return nil }
    defs, err := s.fieldSrc.Fields(ctx)
    if err != nil { return err }

    known := map[string]bool{}
    byName := map[string]string{}
    for _, f := range defs {
        id, _ := f["id"].(string)
        key, _ := f["key"].(string)
        name, _ := f["name"].(string)
        if id != "" { known[id] = true }
        if key != "" { known[key] = true }
        ln := strings.ToLower(strings.TrimSpace(name))
        if ln == "" { continue }
        if byName[ln] == "" {
            if id != "" { byName[ln] = id } else { byName[ln] = key }
        }
    }
    if len(known) == 0 { return nil }

    s.mu.Lock()
    defer s.mu.Unlock()
    if !known[s.mapping.StoryPointField] {
        if id := byName["story points"]; id != "" {
            s.log.Info().Str("configured", s.mapping.StoryPointField).Str("resolved", id).Msg("story point field resolved by name")
            s.mapping.StoryPointField = id
        }
    }
    if !known[s.mapping.EpicLinkField] {
        if id := byName["epic link"]; id != "" {
            s.log.Info().Str("configured", s.mapping.EpicLinkField).Str("resolved", id).Msg("epic link field resolved by name")
            s.mapping.EpicLinkField = id
        }
    }
    return nil
}

// ReportForEpic runs the full pipeline for one Epic: fetch, normalize,
// snapshot, metrics, time series. A fetch failure fails the whole report;
// per-record normalization failures follow the configured policy.
func (s *Service) ReportForEpic(ctx context.Context, epicKey string) (*Report, error) {
    mapping := s.mappingNow()

    epicRaw, err := s.fetcher.FetchEpic(ctx, epicKey)
    if err != nil { return nil, err }
    rawChildren, err := s.fetcher.FetchEpicIssues(ctx, epicKey, mapping.EpicLinkField)
    if err != nil { return nil, err }

    children := make([]domain.Issue, 0, len(rawChildren))
    var warnings []string
    for _, raw := range rawChildren {
        iss, err := normalize.Issue(raw, mapping, epicKey)
        if err != nil {
            var nerr *normalize.Error
            if errors.As(err, &nerr) && s.cfg.NormalizePolicy != "abort" {
                s.log.Warn().Str("epic", epicKey).Err(err).Msg("skipping record")
                warnings = append(warnings, err.Error())
                continue
            }
            return nil, fmt.Errorf("epic %s: %w", epicKey, err)
        }
        children = append(children, iss)
    }

    epic, err := normalize.Epic(epicRaw, children, time.Now().UTC())
    if err != nil { return nil, fmt.Errorf("epic %s: %w", epicKey, err) }

    // Baseline is read before today's snapshot lands so a first-ever fetch
    // reports scope change as unavailable rather than zero.
    var baseline *domain.Snapshot
    if s.store != nil {
        baseline, err = s.store.EarliestSnapshot(ctx, epicKey)
        if err != nil { s.log.Error().Err(err).Str("epic", epicKey).Msg("baseline lookup failed") }
    }

    m := metrics.Compute(epic, baseline, metrics.Options{
        VelocityLookbackWeeks: s.cfg.VelocityLookbackWeeks,
        ForecastSkipWeekends:  s.cfg.ForecastSkipWeekends,
    })

    if s.store != nil {
        snap := domain.Snapshot{
            EpicKey:      epic.Key,
            TakenAt:      epic.FetchedAt,
            TotalSP:      m.TotalSP,
            CompletedSP:  m.CompletedSP,
            TotalIssues:  m.TotalIssues,
            ClosedIssues: m.CompletedIssues,
        }
        if err := s.store.InsertSnapshot(ctx, snap); err != nil {
            s.log.Error().Err(err).Str("epic", epicKey).Msg("snapshot insert failed")
        }
    }

    series := metrics.BuildTimeSeries(epic, epic.FetchedAt)
    s.log.Info().Str("epic", epicKey).Int("issues", m.TotalIssues).Float64("progress", m.ProgressPct).Msg("report computed")
    return &Report{Epic: epic, Metrics: m, Series: series, Warnings: warnings}, nil
}

// ValidateEpicKey reports whether the key resolves in the tracker.
func (s *Service) ValidateEpicKey(ctx context.Context, epicKey string) (bool, error) {
    _, err := s.fetcher.FetchEpic(ctx, epicKey)
    if errors.Is(err, fetch.ErrEpicNotFound) { return false, nil }
    if err != nil { return false, err }
    return true, nil
}

// RefreshResult summarizes one RefreshAll pass.
type RefreshResult struct {
    OK            int               `json:"ok"`
    Failed        int               `json:"failed"`
    IssuesFetched int               `json:"issues_fetched"`
    Errors        map[string]string `json:"errors,omitempty"`
}

// RefreshAll runs the pipeline for every configured Epic with a bounded
// worker pool. Each Epic is an independent failure domain: one failure is
// recorded and does not abort the siblings.
func (s *Service) RefreshAll(ctx context.Context) (*RefreshResult, error) {
    keys := s.cfg.EpicKeys
    res := &RefreshResult{Errors: map[string]string{}}
    if len(keys) == 0 { return res, nil }

    var runID int64
    if s.store != nil {
        epicsJSON, _ := json.Marshal(keys)
        id, err := s.store.StartJobRun(ctx, string(epicsJSON))
        if err != nil { s.log.Error().Err(err).Msg("start job run failed") } else { runID = id }
    }

    type result struct {
        key    string
        issues int
        err    error
    }
    jobs := make(chan string)
    results := make(chan result)
    workerCount := s.cfg.WorkersEpics
    if workerCount <= 0 { workerCount = 4 }
    var wg sync.WaitGroup
    for w := 0; w < workerCount; w++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for key := range jobs {
                rep, err := s.ReportForEpic(ctx, key)
                if err != nil {
                    results <- result{key: key, err: err}
                    continue
                }
                results <- result{key: key, issues: rep.Metrics.TotalIssues}
            }
        }()
    }
    go func() {
        for _, k := range keys { jobs <- k }
        close(jobs)
        wg.Wait()
        close(results)
    }()
    for r := range results {
        if r.err != nil {
            res.Failed++
            res.Errors[r.key] = r.err.Error()
            s.log.Error().Err(r.err).Str("epic", r.key).Msg("refresh failed")
            continue
        }
        res.OK++
        res.IssuesFetched += r.issues
    }

    if s.store != nil && runID != 0 {
        errStr := ""
        if res.Failed > 0 { errStr = fmt.Sprintf("%d epics failed", res.Failed) }
        _ = s.store.FinishJobRun(ctx, runID, res.OK, res.Failed, res.IssuesFetched, res.Failed == 0, errStr)
    }
    s.log.Info().Int("ok", res.OK).Int("failed", res.Failed).Msg("refresh complete")
    return res, nil
}

func (s *Service) GetLastRun(ctx context.Context) (*repo.LastRun, error) {
    if s.store == nil { return nil, errors.New("no store configured") }
    return s.store.GetLastRun(ctx)
}

// SnapshotHistory returns the persisted snapshot rows for an Epic, oldest
// first, for trend charting alongside the reconstructed series.
func (s *Service) SnapshotHistory(ctx context.Context, epicKey string) ([]domain.Snapshot, error) {
    if s.store == nil { return nil, errors.New("no store configured") }
    return s.store.ListSnapshots(ctx, epicKey)
}
