/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/HamedShams/epic-pulse/internal/adapters/jira"
    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/HamedShams/epic-pulse/internal/fetch"
    httpx "github.com/HamedShams/epic-pulse/internal/http"
    "github.com/HamedShams/epic-pulse/internal/jobs"
    "github.com/HamedShams/epic-pulse/internal/logger"
    "github.com/HamedShams/epic-pulse/internal/repo"
    "github.com/HamedShams/epic-pulse/internal/services"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // DB
    db := repo.MustOpen(ctx, cfg, log)
    defer db.Close()

    // Adapters
    jc := jira.NewClient(cfg, log)
    fetcher := fetch.New(jc, log)

    // Field mapping, hot reloaded on file change
    fm, err := config.LoadFieldMap(cfg.FieldMapFile)
    if err != nil {
        log.Warn().Err(err).Str("path", cfg.FieldMapFile).Msg("field map load failed; using defaults")
        fm = config.DefaultFieldMap()
    }
    if cfg.JiraSPField != "" { fm.StoryPointField = cfg.JiraSPField }

    // Services
    repository := repo.NewRepository(db, log)
    svc := services.New(cfg, log, repository, fetcher, jc, fm)

    if cfg.FieldMapFile != "" {
        go func() {
            onChange := func(fm config.FieldMap) {
                if cfg.JiraSPField != "" { fm.StoryPointField = cfg.JiraSPField }
                svc.SetFieldMap(fm)
            }
            if err := config.WatchFieldMap(ctx, cfg.FieldMapFile, log, onChange); err != nil {
                log.Error().Err(err).Msg("field map watcher stopped")
            }
        }()
    }

    // Startup sanity check and custom-field discovery against the tracker
    {
        ctx2, cancel2 := context.WithTimeout(ctx, 20*time.Second); defer cancel2()
        if _, err := jc.Myself(ctx2); err != nil {
            log.Error().Err(err).Msg("jira auth check failed; continuing, requests may fail")
        } else {
            log.Info().Str("base_url", cfg.JiraBaseURL).Msg("jira auth ok")
        }
        if err := svc.DiscoverFields(ctx2); err != nil {
            log.Warn().Err(err).Msg("jira field discovery failed; keeping configured field ids")
        }
    }

    // HTTP server (Gin)
    router := httpx.NewRouter(cfg, log, svc)

    // Cron
    cr := jobs.NewCron(cfg, log, svc, repository)
    cr.Start()
    defer cr.Stop()

    // graceful shutdown
    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
