package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/doratrack/doratrack/internal/domain"
	apperrors "github.com/doratrack/doratrack/internal/errors"
	"github.com/doratrack/doratrack/internal/pipeline"
	"github.com/doratrack/doratrack/internal/storage"
)

// Handler handles API requests
type Handler struct {
	store    storage.Store
	pipeline pipeline.Pipeline
	backfill pipeline.Backfill
	registry *pipeline.Registry
}

// NewHandler creates a new API handler
func NewHandler(store storage.Store, p pipeline.Pipeline, b pipeline.Backfill, registry *pipeline.Registry) *Handler {
	return &Handler{
		store:    store,
		pipeline: p,
		backfill: b,
		registry: registry,
	}
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// GetLatestSnapshot returns the most recently generated metrics snapshot
// GET /api/v1/metrics/latest
func (h *Handler) GetLatestSnapshot(c *gin.Context) {
	periodType, ok := parsePeriodType(c, "")
	if !ok {
		return
	}

	snapshot, err := h.store.GetLatestSnapshot(c.Request.Context(), periodType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snapshot,
	})
}

// GetTrend returns the most recent N snapshots in chronological order
// GET /api/v1/metrics/trend
func (h *Handler) GetTrend(c *gin.Context) {
	periodType, ok := parsePeriodType(c, domain.PeriodWeekly)
	if !ok {
		return
	}
	periods := parseIntQuery(c, "periods", 12)

	snapshots, err := h.store.GetRecentSnapshots(c.Request.Context(), periods, periodType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snapshots,
	})
}

// GetSnapshotsInRange returns snapshots whose periods fall inside a date range
// GET /api/v1/metrics/range
func (h *Handler) GetSnapshotsInRange(c *gin.Context) {
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}
	periodType, ok := parsePeriodType(c, "")
	if !ok {
		return
	}

	snapshots, err := h.store.GetSnapshotsInRange(c.Request.Context(), start, end, periodType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snapshots,
	})
}

// GetDeployments returns stored deployments inside a date range
// GET /api/v1/deployments
func (h *Handler) GetDeployments(c *gin.Context) {
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}
	status := c.Query("status")
	limit := parseIntQuery(c, "limit", 100)

	deployments, err := h.store.GetDeploymentsInRange(c.Request.Context(), start, end, status, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": deployments,
	})
}

// GetIncidents returns stored incidents inside a date range
// GET /api/v1/incidents
func (h *Handler) GetIncidents(c *gin.Context) {
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}
	severity := c.Query("severity")
	limit := parseIntQuery(c, "limit", 100)

	incidents, err := h.store.GetIncidentsInRange(c.Request.Context(), start, end, severity, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": incidents,
	})
}

// RunPipeline runs the pipeline for the most recent complete period
// POST /api/v1/pipeline/run
func (h *Handler) RunPipeline(c *gin.Context) {
	periodType, ok := parsePeriodType(c, domain.PeriodWeekly)
	if !ok {
		return
	}

	snapshot, counts, err := h.pipeline.RunCurrent(c.Request.Context(), periodType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"snapshot":      snapshot,
			"deployments":   counts.Deployments,
			"pull_requests": counts.PullRequests,
			"incidents":     counts.Incidents,
		},
	})
}

// PreviewBackfill returns the periods a backfill over a range would process
// GET /api/v1/backfill/preview
func (h *Handler) PreviewBackfill(c *gin.Context) {
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}
	periodType, ok := parsePeriodType(c, domain.PeriodWeekly)
	if !ok {
		return
	}

	periods := h.backfill.Preview(start, end, periodType)

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"total_periods": len(periods),
			"periods":       periods,
		},
	})
}

type backfillRequest struct {
	StartDate  string `json:"start_date" binding:"required"`
	EndDate    string `json:"end_date" binding:"required"`
	PeriodType string `json:"period_type"`
}

// StartBackfill launches a backfill in the background and returns its run id
// POST /api/v1/backfill
func (h *Handler) StartBackfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("start_date and end_date are required"))
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("start_date must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("end_date must be YYYY-MM-DD"))
		return
	}

	periodType := domain.PeriodWeekly
	if req.PeriodType != "" {
		periodType = domain.PeriodType(req.PeriodType)
		if periodType != domain.PeriodWeekly && periodType != domain.PeriodMonthly {
			respondError(c, apperrors.NewBadRequestError("period_type must be weekly or monthly"))
			return
		}
	}

	periods := h.backfill.Preview(start, end, periodType)
	if len(periods) == 0 {
		respondError(c, apperrors.NewBadRequestError("date range contains no complete periods"))
		return
	}

	runID := h.registry.Create(periodType, start, end, len(periods))

	go func() {
		_, err := h.backfill.Run(context.Background(), start, end, periodType, func(r domain.PeriodResult) {
			h.registry.Record(runID, r)
		})
		h.registry.Finish(runID, err)
		if err != nil {
			log.Printf("[api] backfill %s aborted: %v", runID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"data": gin.H{
			"run_id":        runID,
			"total_periods": len(periods),
		},
	})
}

// GetBackfillStatus returns the progress of a backfill run
// GET /api/v1/backfill/:id
func (h *Handler) GetBackfillStatus(c *gin.Context) {
	id := c.Param("id")

	status, ok := h.registry.Get(id)
	if !ok {
		respondError(c, apperrors.NewNotFoundError("backfill run"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": status,
	})
}

// parsePeriodType parses the period_type query parameter. An empty default
// means "any period type" for query endpoints.
func parsePeriodType(c *gin.Context, defaultType domain.PeriodType) (domain.PeriodType, bool) {
	value := c.Query("period_type")
	if value == "" {
		return defaultType, true
	}

	periodType := domain.PeriodType(value)
	if periodType != domain.PeriodWeekly && periodType != domain.PeriodMonthly {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    apperrors.ErrCodeBadRequest,
				"message": "period_type must be weekly or monthly",
			},
		})
		return "", false
	}
	return periodType, true
}

// parseDateRange parses start/end query parameters, defaulting to the
// last 90 days.
func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	start := now.AddDate(0, -3, 0)
	end := now

	if startStr := c.Query("start"); startStr != "" {
		parsed, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			respondError(c, apperrors.NewBadRequestError("start must be YYYY-MM-DD"))
			return start, end, false
		}
		start = parsed
	}
	if endStr := c.Query("end"); endStr != "" {
		parsed, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			respondError(c, apperrors.NewBadRequestError("end must be YYYY-MM-DD"))
			return start, end, false
		}
		end = parsed.Add(24*time.Hour - time.Second)
	}

	return start, end, true
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeUpstreamBatch, apperrors.ErrCodeUpstreamItem:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
