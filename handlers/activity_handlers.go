// api/handlers/activity_handlers.go
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"amplisync/api/amplitude"
	"amplisync/api/models"
	"amplisync/api/store"
	"amplisync/api/sync"
)

type AmplitudeHandlers struct {
	Activities  *store.ActivityStore
	Schedules   *store.ScheduleStore
	SyncService *sync.Service
	Warehouse   *store.WarehouseStore // nil when ClickHouse is not configured
	Location    *time.Location
}

func NewAmplitudeHandlers(activities *store.ActivityStore, schedules *store.ScheduleStore, syncService *sync.Service, warehouse *store.WarehouseStore, loc *time.Location) *AmplitudeHandlers {
	if loc == nil {
		loc = time.UTC
	}
	return &AmplitudeHandlers{
		Activities:  activities,
		Schedules:   schedules,
		SyncService: syncService,
		Warehouse:   warehouse,
		Location:    loc,
	}
}

// ListDailyActivity returns the daily device rollups for one date
// (?date=YYYY-MM-DD, default: today in the configured time zone).
func (h *AmplitudeHandlers) ListDailyActivity(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = time.Now().In(h.Location).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'date' format. Use YYYY-MM-DD"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Activities.ListByDate(ctx, date)
	if err != nil {
		log.Printf("Error listing daily activity for %s: %v", date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve daily activity"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// RunSync triggers a full sync pass for today, bypassing the schedule gate.
func (h *AmplitudeHandlers) RunSync(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	result, err := h.SyncService.SyncToday(ctx)
	if err != nil {
		var transportErr *amplitude.TransportError
		var malformedErr *amplitude.MalformedLineError
		switch {
		case errors.Is(err, amplitude.ErrMissingCredentials):
			log.Printf("Sync aborted: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Amplitude export credentials are not configured"})
		case errors.As(err, &transportErr), errors.As(err, &malformedErr):
			log.Printf("Sync failed against export API: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Amplitude export fetch failed", "details": err.Error()})
		default:
			log.Printf("Sync failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetSchedule returns the singleton schedule record.
func (h *AmplitudeHandlers) GetSchedule(c *gin.Context) {
	schedule, err := h.Schedules.Get(c.Request.Context())
	if err != nil {
		log.Printf("Error getting sync schedule: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve schedule"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_at":      schedule.RunAt(),
		"enabled":     schedule.Enabled,
		"last_run_on": schedule.LastRunOn,
	})
}

// UpdateSchedule sets the daily run time and enabled flag.
func (h *AmplitudeHandlers) UpdateSchedule(c *gin.Context) {
	var req models.ScheduleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	runAt, err := time.Parse("15:04", req.RunAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'run_at' format. Use HH:MM"})
		return
	}

	if err := h.Schedules.Update(c.Request.Context(), runAt.Hour(), runAt.Minute(), *req.Enabled); err != nil {
		log.Printf("Error updating sync schedule: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update schedule"})
		return
	}

	log.Printf("Sync schedule updated: run_at=%s enabled=%t", req.RunAt, *req.Enabled)
	c.JSON(http.StatusOK, gin.H{"message": "Schedule updated"})
}

// GetEventCountsOverTime serves bucketed event counts from the warehouse.
func (h *AmplitudeHandlers) GetEventCountsOverTime(c *gin.Context) {
	if h.Warehouse == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event warehouse is not configured"})
		return
	}

	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	eventTypeFilter := c.Query("eventType")

	start, end, ok := h.parseTimeWindow(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Warehouse.GetEventCountsOverTime(ctx, interval, start, end, eventTypeFilter)
	if err != nil {
		log.Printf("Error getting event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetUniqueDevicesOverTime serves bucketed distinct-device counts from the
// warehouse.
func (h *AmplitudeHandlers) GetUniqueDevicesOverTime(c *gin.Context) {
	if h.Warehouse == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event warehouse is not configured"})
		return
	}

	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := h.parseTimeWindow(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Warehouse.GetUniqueDevicesOverTime(ctx, interval, start, end)
	if err != nil {
		log.Printf("Error getting unique devices over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetTopEventTypes serves the most frequent event types from the warehouse.
func (h *AmplitudeHandlers) GetTopEventTypes(c *gin.Context) {
	if h.Warehouse == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event warehouse is not configured"})
		return
	}

	start, end, ok := h.parseTimeWindow(c)
	if !ok {
		return
	}

	limit := uint64(10)
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter"})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Warehouse.GetTopEventTypes(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top event types: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event type statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// parseTimeWindow reads the optional start/end RFC3339 query parameters,
// defaulting to the last 7 days.
func (h *AmplitudeHandlers) parseTimeWindow(c *gin.Context) (time.Time, time.Time, bool) {
	var start, end time.Time
	var err error

	startParam := c.Query("start")
	if startParam != "" {
		start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		start = time.Now().UTC().Add(-7 * 24 * time.Hour)
	}

	endParam := c.Query("end")
	if endParam != "" {
		end, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		end = time.Now().UTC()
	}

	return start, end, true
}
