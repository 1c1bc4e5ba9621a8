package handler

import (
	"net/http"
	"strconv"
	"time"

	"taskpilot/internal/ledger"
	"taskpilot/internal/monitor"
	"taskpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, production should use stricter checks
	},
}

// SystemHandler exposes system health, costs, alerts and shutdown
type SystemHandler struct {
	monitor *monitor.Monitor
	ledger  *ledger.Ledger
}

// NewSystemHandler creates system handler
func NewSystemHandler(m *monitor.Monitor, l *ledger.Ledger) *SystemHandler {
	return &SystemHandler{monitor: m, ledger: l}
}

// Status returns the aggregated system health snapshot
// @Summary System status
// @Description Aggregated system health snapshot
// @Tags system
// @Produce json
// @Success 200 {object} model.SystemSnapshot
// @Router /system/status [get]
func (h *SystemHandler) Status(c *gin.Context) {
	snap := h.monitor.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"system":          snap,
		"uptime_hours":    h.monitor.Uptime().Hours(),
		"shutdown_reason": h.monitor.ShutdownReason(),
	})
}

// Alerts returns recent alerts, newest first
// @Summary Recent alerts
// @Description Recent system alerts, newest first
// @Tags system
// @Produce json
// @Param limit query int false "Maximum alerts returned"
// @Success 200 {object} map[string]interface{}
// @Router /system/alerts [get]
func (h *SystemHandler) Alerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	alerts := h.monitor.RecentAlerts(limit)
	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// Costs returns today's spend summary
// @Summary Cost summary
// @Description Today's spend totals per service and worker
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /costs/summary [get]
func (h *SystemHandler) Costs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"snapshot":         h.ledger.Snapshot(),
		"utilization":      h.ledger.Utilization(),
		"remaining_budget": h.ledger.RemainingBudget(),
	})
}

// Shutdown triggers an emergency shutdown
// @Summary Emergency shutdown
// @Description Trigger a system-wide emergency shutdown
// @Tags system
// @Accept json
// @Success 200 {object} map[string]string
// @Router /system/shutdown [post]
func (h *SystemHandler) Shutdown(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual shutdown via API"
	}

	if err := h.monitor.TriggerEmergencyShutdown(c.Request.Context(), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "shutdown triggered", "reason": req.Reason})
}

// HealthStream streams system health snapshots over a websocket
// @Summary System health stream
// @Description WebSocket stream of system health snapshots
// @Tags system
// @Router /system/health/ws [get]
func (h *SystemHandler) HealthStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	// First snapshot immediately, then on each tick.
	for {
		if err := ws.WriteJSON(h.monitor.Snapshot(ctx)); err != nil {
			logger.DebugCtx(ctx, "health stream closed: %v", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
