/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "errors"
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"
    "github.com/HamedShams/epic-pulse/internal/adapters/jira"
    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/HamedShams/epic-pulse/internal/domain"
    "github.com/HamedShams/epic-pulse/internal/fetch"
    "github.com/HamedShams/epic-pulse/internal/repo"
    "github.com/HamedShams/epic-pulse/internal/services"
    "github.com/rs/zerolog"
)

type service interface {
    ReportForEpic(ctx context.Context, epicKey string) (*services.Report, error)
    RefreshAll(ctx context.Context) (*services.RefreshResult, error)
    ValidateEpicKey(ctx context.Context, epicKey string) (bool, error)
    SnapshotHistory(ctx context.Context, epicKey string) ([]domain.Snapshot, error)
    GetLastRun(ctx context.Context) (*repo.LastRun, error)
}

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc any) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc.(service)}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) EpicReport(c *gin.Context) {
    key := strings.ToUpper(strings.TrimSpace(c.Param("key")))
    if key == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "missing epic key"})
        return
    }
    rep, err := h.svc.ReportForEpic(c.Request.Context(), key)
    if err != nil {
        h.failReport(c, key, err)
        return
    }
    c.JSON(http.StatusOK, rep)
}

// failReport maps pipeline failures to distinguishable statuses: an auth
// failure means re-login, an exhausted rate-limit budget means try again
// later, anything else is an upstream fault.
func (h *Handlers) failReport(c *gin.Context, key string, err error) {
    var ae *jira.AuthError
    var rle *jira.RateLimitExceededError
    switch {
    case errors.Is(err, fetch.ErrEpicNotFound):
        c.JSON(http.StatusNotFound, gin.H{"error": "epic not found"})
    case errors.As(err, &ae):
        c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
    case errors.As(err, &rle):
        c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retry": true})
    default:
        h.log.Error().Err(err).Str("epic", key).Msg("report failed")
        c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
    }
}

func (h *Handlers) EpicHistory(c *gin.Context) {
    key := strings.ToUpper(strings.TrimSpace(c.Param("key")))
    if key == "" {
        c.JSON(http.StatusBadRequest, gin.H{"error": "missing epic key"})
        return
    }
    snaps, err := h.svc.SnapshotHistory(c.Request.Context(), key)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"epic_key": key, "snapshots": snaps})
}

func (h *Handlers) LastRun(c *gin.Context) {
    lr, err := h.svc.GetLastRun(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, lr)
}

func (h *Handlers) RefreshNow(c *gin.Context) {
    // Run detached from the HTTP request to avoid context cancellation
    go func() { _, _ = h.svc.RefreshAll(context.Background()) }()
    c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
