package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/pulse/internal/collector"
	"github.com/tinytelemetry/pulse/internal/model"
)

type metricRequest struct {
	Name  string            `json:"name" binding:"required"`
	Value *float64          `json:"value" binding:"required"`
	Unit  string            `json:"unit"`
	Tags  map[string]string `json:"tags"`
}

type logRequest struct {
	Level     string         `json:"level" binding:"required,oneof=debug info warn error fatal"`
	Message   string         `json:"message" binding:"required"`
	Context   string         `json:"context"`
	Data      map[string]any `json:"data"`
	UserID    string         `json:"userId"`
	SessionID string         `json:"sessionId"`
	RequestID string         `json:"requestId"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"userAgent"`
}

type alertRequest struct {
	Type     string         `json:"type" binding:"required,oneof=info warning error critical"`
	Title    string         `json:"title" binding:"required"`
	Message  string         `json:"message" binding:"required"`
	Severity string         `json:"severity" binding:"required,oneof=low medium high critical"`
	Category string         `json:"category" binding:"required,oneof=performance security availability business"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

type ackRequest struct {
	By string `json:"by" binding:"required"`
}

// window holds the query-string fields shared by every read endpoint.
type window struct {
	Start int64 `form:"start" binding:"omitempty,min=0"`
	End   int64 `form:"end" binding:"omitempty,min=0"`
	Limit int   `form:"limit" binding:"omitempty,min=0,max=10000"`
}

type metricQueryParams struct {
	window
	Name string `form:"name"`
}

type logQueryParams struct {
	window
	Level   string `form:"level" binding:"omitempty,oneof=debug info warn error fatal"`
	Context string `form:"context"`
	UserID  string `form:"userId"`
}

type alertQueryParams struct {
	window
	Type         string `form:"type" binding:"omitempty,oneof=info warning error critical"`
	Severity     string `form:"severity" binding:"omitempty,oneof=low medium high critical"`
	Category     string `form:"category" binding:"omitempty,oneof=performance security availability business"`
	Acknowledged string `form:"acknowledged" binding:"omitempty,oneof=true false"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// requireEnabled rejects ingestion while monitoring is switched off.
func (s *Server) requireEnabled(c *gin.Context) bool {
	if !s.api.Stats().Enabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitoring is disabled"})
		return false
	}
	return true
}

func (s *Server) handleSendMetric(c *gin.Context) {
	var req metricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !s.requireEnabled(c) {
		return
	}
	s.api.SendMetric(req.Name, *req.Value, req.Unit, req.Tags)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handleSendLog(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !s.requireEnabled(c) {
		return
	}

	ip := req.IP
	if ip == "" {
		ip = c.ClientIP()
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}
	s.api.SendLog(model.LogLevel(req.Level), req.Message, collector.LogOptions{
		Context:   req.Context,
		Data:      req.Data,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		IP:        ip,
		UserAgent: userAgent,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handleSendAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !s.requireEnabled(c) {
		return
	}
	alert := s.api.SendAlert(
		model.AlertType(req.Type), req.Title, req.Message,
		model.Severity(req.Severity), model.Category(req.Category),
		req.Source, req.Metadata,
	)
	// Disabled after the enabled check.
	if alert.ID == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitoring is disabled"})
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (s *Server) handleAckAlert(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	found, err := s.api.AcknowledgeAlert(c.Request.Context(), id, req.By)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "acknowledged": true})
}

// tagFilters collects tag.<key>=<value> query parameters.
func tagFilters(c *gin.Context) map[string]string {
	var tags map[string]string
	for key, values := range c.Request.URL.Query() {
		name, ok := strings.CutPrefix(key, "tag.")
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[name] = values[0]
	}
	return tags
}

func (s *Server) handleGetMetrics(c *gin.Context) {
	var p metricQueryParams
	if err := c.ShouldBindQuery(&p); err != nil {
		badRequest(c, err)
		return
	}
	metrics, _ := s.api.GetMetrics(c.Request.Context(), model.MetricQuery{
		Name:      p.Name,
		StartTime: p.Start,
		EndTime:   p.End,
		Tags:      tagFilters(c),
		Limit:     p.Limit,
	})
	if metrics == nil {
		metrics = []model.Metric{}
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics, "count": len(metrics)})
}

func (s *Server) handleGetLogs(c *gin.Context) {
	var p logQueryParams
	if err := c.ShouldBindQuery(&p); err != nil {
		badRequest(c, err)
		return
	}
	logs, _ := s.api.GetLogs(c.Request.Context(), model.LogQuery{
		Level:     model.LogLevel(p.Level),
		StartTime: p.Start,
		EndTime:   p.End,
		Context:   p.Context,
		UserID:    p.UserID,
		Limit:     p.Limit,
	})
	if logs == nil {
		logs = []model.Log{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (s *Server) handleGetAlerts(c *gin.Context) {
	var p alertQueryParams
	if err := c.ShouldBindQuery(&p); err != nil {
		badRequest(c, err)
		return
	}
	q := model.AlertQuery{
		Type:      model.AlertType(p.Type),
		Severity:  model.Severity(p.Severity),
		Category:  model.Category(p.Category),
		StartTime: p.Start,
		EndTime:   p.End,
		Limit:     p.Limit,
	}
	if p.Acknowledged != "" {
		acked, _ := strconv.ParseBool(p.Acknowledged)
		q.Acknowledged = &acked
	}
	alerts, _ := s.api.GetAlerts(c.Request.Context(), q)
	if alerts == nil {
		alerts = []model.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}
