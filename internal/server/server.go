// Package server exposes the pipeline over HTTP: candidate review,
// decisions, campaign status, metric ingestion, and strategy
// inspection, plus health and Prometheus endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dropforge/internal/config"
	"dropforge/internal/logging"
	"dropforge/internal/pipeline"
	"dropforge/internal/store"
	"dropforge/internal/types"
)

// Server wraps the gin engine around the pipeline service.
type Server struct {
	svc     *pipeline.Service
	cfg     *config.Config
	engine  *gin.Engine
	metrics *Metrics
	http    *http.Server
}

// New builds the HTTP server. The registry carries the Prometheus
// instruments; pass prometheus.DefaultRegisterer in production.
func New(svc *pipeline.Service, cfg *config.Config, reg *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		engine:  engine,
		metrics: NewMetrics(reg),
	}
	engine.Use(s.metrics.instrument())
	s.routes(reg)
	return s
}

func (s *Server) routes(reg *prometheus.Registry) {
	s.engine.GET("/health", s.handleHealth)
	if s.cfg.Server.EnableMetrics {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	{
		api.POST("/discover", s.handleDiscover)
		api.GET("/candidates", s.handleListCandidates)
		api.GET("/candidates/:id", s.handleGetCandidate)
		api.POST("/candidates/:id/decision", s.handleDecide)
		api.GET("/candidates/:id/campaign", s.handleCandidateCampaign)
		api.GET("/campaigns", s.handleListCampaigns)
		api.GET("/campaigns/:id", s.handleGetCampaign)
		api.GET("/campaigns/:id/metrics", s.handleCampaignMetrics)
		api.POST("/campaigns/:id/complete", s.handleCompleteCampaign)
		api.POST("/metrics", s.handleRecordMetric)
		api.GET("/strategy", s.handleStrategy)
		api.GET("/strategy/history", s.handleStrategyHistory)
		api.GET("/strategy/versions/:version", s.handleStrategyVersion)
		api.POST("/evolve", s.handleEvolve)
	}
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{Addr: s.cfg.Server.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("API listening on %s", s.cfg.Server.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  s.cfg.Name,
		"version":  s.cfg.Version,
		"strategy": s.svc.CurrentStrategy().Version,
	})
}

func (s *Server) handleDiscover(c *gin.Context) {
	scored, err := s.svc.Discover(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discovered": len(scored), "candidates": scored})
}

func (s *Server) handleListCandidates(c *gin.Context) {
	f := store.ScoreFilter{
		Undecided: c.Query("undecided") == "true",
		Category:  c.Query("category"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(c, types.Validationf("limit must be a positive integer, got %q", raw))
			return
		}
		f.Limit = n
	}

	scored, err := s.svc.ListCandidates(f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": scored})
}

func (s *Server) handleGetCandidate(c *gin.Context) {
	sc, err := s.svc.GetCandidate(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

type decideRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Actor   string `json:"actor"`
}

func (s *Server) handleDecide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, types.Validationf("invalid decision body: %v", err))
		return
	}

	d, err := s.svc.Decide(c.Request.Context(), c.Param("id"), parseOutcome(req.Outcome), req.Actor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.DecisionsTotal.WithLabelValues(strings.TrimPrefix(string(d.Outcome), "/")).Inc()
	c.JSON(http.StatusCreated, d)
}

// parseOutcome accepts both the wire form ("accepted") and the
// internal form ("/accepted").
func parseOutcome(raw string) types.DecisionOutcome {
	if raw != "" && !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return types.DecisionOutcome(raw)
}

func (s *Server) handleCandidateCampaign(c *gin.Context) {
	cmp, err := s.svc.CampaignForCandidate(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaignView(cmp))
}

func (s *Server) handleListCampaigns(c *gin.Context) {
	var statuses []types.CampaignStatus
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := types.CampaignStatus("/" + strings.TrimPrefix(strings.TrimSpace(part), "/"))
			statuses = append(statuses, st)
		}
	}
	campaigns, err := s.svc.ListCampaigns(statuses...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]gin.H, 0, len(campaigns))
	for _, cmp := range campaigns {
		views = append(views, campaignView(cmp))
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": views})
}

func (s *Server) handleGetCampaign(c *gin.Context) {
	cmp, err := s.svc.GetCampaign(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaignView(cmp))
}

// campaignView adds derived profit to the campaign record.
func campaignView(cmp types.Campaign) gin.H {
	return gin.H{
		"id":             cmp.ID,
		"candidate_id":   cmp.CandidateID,
		"status":         cmp.Status,
		"creative":       cmp.Creative,
		"cost":           cmp.Cost,
		"revenue":        cmp.Revenue,
		"profit":         cmp.Profit(),
		"failure_reason": cmp.FailureReason,
		"launched_at":    cmp.LaunchedAt,
		"updated_at":     cmp.UpdatedAt,
	}
}

func (s *Server) handleCampaignMetrics(c *gin.Context) {
	totals, err := s.svc.CampaignMetrics(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (s *Server) handleCompleteCampaign(c *gin.Context) {
	cmp, err := s.svc.CompleteCampaign(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaignView(cmp))
}

type metricRequest struct {
	CampaignID string    `json:"campaign_id" binding:"required"`
	Kind       string    `json:"kind" binding:"required"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at" binding:"required"`
}

func (s *Server) handleRecordMetric(c *gin.Context) {
	var req metricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, types.Validationf("invalid metric body: %v", err))
		return
	}
	kind := req.Kind
	if !strings.HasPrefix(kind, "/") {
		kind = "/" + kind
	}

	e := types.MetricEvent{
		CampaignID: req.CampaignID,
		Kind:       types.MetricKind(kind),
		Value:      req.Value,
		ObservedAt: req.ObservedAt,
	}
	cmp, accepted, err := s.svc.RecordMetric(c.Request.Context(), e)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result := "accepted"
	status := http.StatusCreated
	if !accepted {
		result = "duplicate"
		status = http.StatusOK
	}
	s.metrics.MetricEventsTotal.WithLabelValues(strings.TrimPrefix(kind, "/"), result).Inc()
	c.JSON(status, gin.H{"accepted": accepted, "campaign": campaignView(cmp)})
}

func (s *Server) handleStrategy(c *gin.Context) {
	v := s.svc.CurrentStrategy()
	s.metrics.StrategyVersion.Set(float64(v.Version))
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleStrategyHistory(c *gin.Context) {
	history, err := s.svc.StrategyHistory()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": history})
}

func (s *Server) handleStrategyVersion(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("version"))
	if err != nil || n < 1 {
		s.writeError(c, types.Validationf("version must be a positive integer, got %q", c.Param("version")))
		return
	}
	v, err := s.svc.StrategyVersion(n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleEvolve(c *gin.Context) {
	next, published, err := s.svc.RunEvolutionCycle(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !published {
		c.JSON(http.StatusOK, gin.H{"published": false, "strategy": s.svc.CurrentStrategy()})
		return
	}
	s.metrics.StrategyVersion.Set(float64(next.Version))
	c.JSON(http.StatusCreated, gin.H{"published": true, "strategy": next})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeError maps the error taxonomy to HTTP statuses. An already
// decided candidate additionally carries the existing decision so the
// client can show what blocked it.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, types.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.ServerError("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	body := gin.H{"error": err.Error()}
	var already *types.AlreadyDecidedError
	if errors.As(err, &already) {
		body["existing_decision"] = already.Existing
	}
	c.JSON(status, body)
}
