package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/gridcast/internal/audit"
	"github.com/terminal-bench/gridcast/internal/auth"
	"github.com/terminal-bench/gridcast/internal/carbon"
	"github.com/terminal-bench/gridcast/internal/forecast"
	"github.com/terminal-bench/gridcast/internal/history"
	"github.com/terminal-bench/gridcast/internal/lifecycle"
	"github.com/terminal-bench/gridcast/internal/routing"
	"github.com/terminal-bench/gridcast/internal/scale"
	"github.com/terminal-bench/gridcast/pkg/circuit"
	"github.com/terminal-bench/gridcast/shared/events"
)

// SensorReader supplies carbon readings, never failing
type SensorReader interface {
	Current(ctx context.Context) (carbon.Reading, carbon.Source)
	LastKnown() (carbon.Reading, bool)
}

// ForecastHandler serves one request under a routing decision
type ForecastHandler interface {
	Handle(ctx context.Context, req forecast.Request, decision routing.Decision) *forecast.Response
	ResetCircuit(backend routing.Backend)
	CircuitSnapshots() []circuit.Snapshot
}

// LifecycleReporter exposes the heavy backend's lifecycle state
type LifecycleReporter interface {
	Snapshot() lifecycle.Snapshot
}

// Publisher publishes events to the bus
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// ResponseCache holds serialized clean forecasts for a short TTL. Both
// operations are best effort; a dead cache only costs backend calls.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
}

type redisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a redis client as a ResponseCache
func NewRedisCache(client *redis.Client) ResponseCache {
	return &redisCache{client: client}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (r *redisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		log.Printf("failed to cache forecast: %v", err)
	}
}

// Config holds orchestrator service configuration
type Config struct {
	JWTSecret      string
	CacheTTL       time.Duration
	DefaultHorizon time.Duration
	MaxHorizon     time.Duration
}

// Service is the top-level orchestrator: it composes the sensor, routing
// policy, failover controller and lifecycle reporting behind the forecast
// API. Requests are served concurrently; the only cross-request state is
// the hysteresis anchor (previous decision) and the shared circuit and
// lifecycle structures owned by their components.
type Service struct {
	cfg    Config
	router *gin.Engine

	sensor    SensorReader
	policy    routing.Policy
	handler   ForecastHandler
	lifecycle LifecycleReporter
	scaler    scale.Controller
	publisher Publisher

	// optional collaborators; nil disables the feature
	auditor *audit.Writer
	store   *history.Store
	cache   ResponseCache

	decisionMu   sync.Mutex
	lastDecision *routing.Decision

	hub *statusHub
}

// Deps bundles the service's collaborators
type Deps struct {
	Sensor    SensorReader
	Policy    routing.Policy
	Handler   ForecastHandler
	Lifecycle LifecycleReporter
	Scaler    scale.Controller
	Publisher Publisher
	Auditor   *audit.Writer
	Store     *history.Store
	Cache     ResponseCache
}

// NewService creates the orchestrator service
func NewService(cfg Config, deps Deps) *Service {
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = 24 * time.Hour
	}
	if cfg.MaxHorizon <= 0 {
		cfg.MaxHorizon = 7 * 24 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	s := &Service{
		cfg:       cfg,
		router:    gin.Default(),
		sensor:    deps.Sensor,
		policy:    deps.Policy,
		handler:   deps.Handler,
		lifecycle: deps.Lifecycle,
		scaler:    deps.Scaler,
		publisher: deps.Publisher,
		auditor:   deps.Auditor,
		store:     deps.Store,
		cache:     deps.Cache,
		hub:       newStatusHub(),
	}

	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(s.correlationMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/forecast", s.handleForecast)
	s.router.GET("/forecast/history", s.handleHistory)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/ws/status", s.handleStatusWS)

	admin := s.router.Group("/admin", s.authMiddleware())
	{
		admin.POST("/scale", s.handleAdminScale)
		admin.POST("/circuit/reset", s.handleAdminCircuitReset)
	}
}

// Handler returns the HTTP handler for serving
func (s *Service) Handler() http.Handler {
	return s.router
}

// Middleware

func (s *Service) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (s *Service) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.JWTSecret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API disabled"})
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := auth.VerifyToken(s.cfg.JWTSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operator", claims.Subject)
		c.Next()
	}
}

// Handlers

func (s *Service) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleForecast is the request path: sensor -> policy -> failover. Every
// handled outcome, emergency included, is HTTP 200; downstream trouble is
// expressed only through response metadata.
func (s *Service) handleForecast(c *gin.Context) {
	region := c.Query("region")
	if region == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "region is required"})
		return
	}

	horizonStr := c.DefaultQuery("horizon", s.cfg.DefaultHorizon.String())
	horizon, err := time.ParseDuration(horizonStr)
	if err != nil || horizon <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid horizon"})
		return
	}
	if horizon > s.cfg.MaxHorizon {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("horizon exceeds maximum of %s", s.cfg.MaxHorizon)})
		return
	}

	req := forecast.Request{Region: region, Horizon: horizon}
	start := time.Now()

	reading, source := s.sensor.Current(c.Request.Context())
	decision := s.decide(reading)

	correlationID := c.GetString("correlation_id")
	go s.publishDecision(correlationID, region, decision)

	// The cache only short-circuits the backend call. The reading, the
	// decision and its publication happen for every request so lifecycle
	// observers see the full decision stream; the key carries the decided
	// backend so a hit never replays the other model's output.
	if cached, ok := s.cachedResponse(c.Request.Context(), req, decision.Backend); ok {
		cached.CarbonAtDecision = decision.Reading.Value
		c.Header("X-Cache", "hit")
		c.JSON(http.StatusOK, cached)
		return
	}

	resp := s.handler.Handle(c.Request.Context(), req, decision)
	latency := time.Since(start)

	go s.afterForecast(req, decision, source, resp, latency)

	c.JSON(http.StatusOK, resp)
}

// decide evaluates the policy against the shared hysteresis anchor. The
// anchor update is the one serialization point on the request path besides
// the per-backend circuits.
func (s *Service) decide(reading carbon.Reading) routing.Decision {
	s.decisionMu.Lock()
	defer s.decisionMu.Unlock()

	decision := s.policy.Decide(reading, s.lastDecision)
	s.lastDecision = &decision
	return decision
}

// publishDecision emits the routing decision event, fire-and-forget. The
// lifecycle manager consumes these off the bus, decoupled from requests.
func (s *Service) publishDecision(correlationID, region string, decision routing.Decision) {
	if s.publisher == nil {
		return
	}

	event, err := events.NewEvent(events.RoutingDecisionMade, events.RoutingDecisionData{
		Backend:     string(decision.Backend),
		Reason:      string(decision.Reason),
		CarbonValue: decision.Reading.Value,
		ObservedAt:  decision.Reading.ObservedAt,
		Region:      region,
	}, events.Metadata{CorrelationID: correlationID, Source: "orchestrator"})
	if err != nil {
		log.Printf("failed to build decision event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, events.RoutingDecisionMade, event); err != nil {
		log.Printf("failed to publish decision event: %v", err)
	}
}

// afterForecast handles everything off the request path: history, audit,
// the live status feed and the response cache
func (s *Service) afterForecast(req forecast.Request, decision routing.Decision, source carbon.Source, resp *forecast.Response, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.store != nil {
		entry := history.Entry{
			Region:    req.Region,
			Horizon:   req.Horizon.String(),
			Model:     string(resp.ModelUsed),
			Status:    string(resp.Status),
			Carbon:    resp.CarbonAtDecision,
			LatencyMS: latency.Milliseconds(),
		}
		if err := s.store.Record(ctx, entry); err != nil {
			log.Printf("failed to record history entry: %v", err)
		}
	}

	if s.auditor != nil {
		s.auditor.RecordDecision(decision, req.Region)
		s.auditor.RecordForecast(req.Region, string(resp.ModelUsed), string(resp.Status), resp.CarbonAtDecision, latency)
	}

	s.hub.Broadcast(statusUpdate{
		Type:    "forecast",
		Region:  req.Region,
		Backend: string(decision.Backend),
		Model:   string(resp.ModelUsed),
		Status:  string(resp.Status),
		Carbon:  resp.CarbonAtDecision,
		Source:  string(source),
	})

	// Only clean first-attempt results are worth caching
	if s.cache != nil && resp.Status == forecast.StatusOK {
		if payload, err := json.Marshal(resp); err == nil {
			s.cache.Set(ctx, cacheKey(req, decision.Backend), payload, s.cfg.CacheTTL)
		}
	}
}

func (s *Service) cachedResponse(ctx context.Context, req forecast.Request, backend routing.Backend) (*forecast.Response, bool) {
	if s.cache == nil {
		return nil, false
	}

	payload, ok := s.cache.Get(ctx, cacheKey(req, backend))
	if !ok {
		return nil, false
	}

	var resp forecast.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func cacheKey(req forecast.Request, backend routing.Backend) string {
	return fmt.Sprintf("forecast:%s:%s:%s", req.Region, req.Horizon, backend)
}

func (s *Service) handleHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Service) handleStatus(c *gin.Context) {
	status := gin.H{
		"circuits":  s.handler.CircuitSnapshots(),
		"lifecycle": s.lifecycle.Snapshot(),
	}

	if reading, ok := s.sensor.LastKnown(); ok {
		status["last_reading"] = reading
	}

	s.decisionMu.Lock()
	if s.lastDecision != nil {
		decision := *s.lastDecision
		status["last_decision"] = decision
	}
	s.decisionMu.Unlock()

	c.JSON(http.StatusOK, status)
}

// Admin handlers

type adminScaleRequest struct {
	BackendID string `json:"backend_id" binding:"required"`
	Count     *int   `json:"count" binding:"required"`
}

func (s *Service) handleAdminScale(c *gin.Context) {
	var req adminScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if *req.Count != 0 && *req.Count != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be 0 or 1"})
		return
	}

	if err := s.scaler.SetReplicas(c.Request.Context(), req.BackendID, *req.Count); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	log.Printf("operator %s scaled %s to %d", c.GetString("operator"), req.BackendID, *req.Count)
	c.JSON(http.StatusOK, gin.H{"message": "scale requested"})
}

type adminCircuitResetRequest struct {
	Backend string `json:"backend" binding:"required"`
}

func (s *Service) handleAdminCircuitReset(c *gin.Context) {
	var req adminCircuitResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	backend := routing.Backend(req.Backend)
	if backend != routing.BackendHeavy && backend != routing.BackendLight {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown backend"})
		return
	}

	s.handler.ResetCircuit(backend)
	log.Printf("operator %s reset circuit for %s", c.GetString("operator"), backend)
	c.JSON(http.StatusOK, gin.H{"message": "circuit reset"})
}

// BroadcastEvent pushes an out-of-band update (lifecycle or circuit
// transitions) to status feed subscribers
func (s *Service) BroadcastEvent(eventType string, data interface{}) {
	s.hub.Broadcast(statusUpdate{Type: eventType, Data: data})
}
