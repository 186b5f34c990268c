// Package server provides the HTTP API for groundsqld.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fathomlabs/groundsql/internal/embeddings"
	"github.com/fathomlabs/groundsql/internal/policy"
	"github.com/fathomlabs/groundsql/internal/retrieval"
	"github.com/fathomlabs/groundsql/internal/store"
	"github.com/fathomlabs/groundsql/internal/training"
)

// Server exposes retrieval and training over HTTP.
type Server struct {
	echo    *echo.Echo
	engine  *retrieval.Engine
	gateway *training.Gateway
	store   store.Store
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(engine *retrieval.Engine, gateway *training.Gateway, st store.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		engine:  engine,
		gateway: gateway,
		store:   st,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/training", s.handleTrain)
	v1.POST("/training/batch", s.handleTrainBatch)
	v1.GET("/training", s.handleList)
	v1.DELETE("/training/:id", s.handleRemove)
	v1.GET("/stats", s.handleStats)
}

// RetrieveRequest is the request body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	Question      string `json:"question"`
	DatabaseType  string `json:"database_type"`
	TenantID      string `json:"tenant_id"`
	IncludeShared bool   `json:"include_shared"`
	TopK          int    `json:"top_k"`
}

// MatchResponse is one retrieved item with its ranking distance.
type MatchResponse struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Content      string  `json:"content"`
	Question     string  `json:"question,omitempty"`
	DatabaseType string  `json:"database_type"`
	TenantID     string  `json:"tenant_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
	Distance     float32 `json:"distance"`
}

// RetrieveResponse is the response body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	Matches []MatchResponse `json:"matches"`
}

// TrainRequest is the request body for POST /api/v1/training.
type TrainRequest struct {
	Kind         string `json:"kind"`
	Content      string `json:"content"`
	Question     string `json:"question,omitempty"`
	DatabaseType string `json:"database_type"`
	TenantID     string `json:"tenant_id,omitempty"`
	Shared       bool   `json:"is_shared,omitempty"`
}

// TrainResponse is the response body for POST /api/v1/training.
type TrainResponse struct {
	ID string `json:"id"`
}

// TrainBatchRequest is the request body for POST /api/v1/training/batch.
type TrainBatchRequest struct {
	Items []TrainRequest `json:"items"`
}

// BatchItemResponse reports one item's outcome in a batch.
type BatchItemResponse struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// TrainBatchResponse is the response body for POST /api/v1/training/batch.
type TrainBatchResponse struct {
	Results []BatchItemResponse `json:"results"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	matches, err := s.engine.Retrieve(c.Request().Context(), retrieval.Request{
		Query:         req.Question,
		DatabaseType:  store.DatabaseType(req.DatabaseType),
		TenantID:      req.TenantID,
		IncludeShared: req.IncludeShared,
		K:             req.TopK,
	})
	if err != nil {
		return httpError(err)
	}

	resp := RetrieveResponse{Matches: make([]MatchResponse, 0, len(matches))}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, matchResponse(m.Item, m.Distance))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrain(c echo.Context) error {
	var req TrainRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.gateway.Train(c.Request().Context(), trainingRequest(req))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, TrainResponse{ID: id})
}

func (s *Server) handleTrainBatch(c echo.Context) error {
	var req TrainBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	reqs := make([]training.Request, len(req.Items))
	for i, item := range req.Items {
		reqs[i] = trainingRequest(item)
	}

	results, err := s.gateway.TrainBatch(c.Request().Context(), reqs)
	if err != nil {
		return httpError(err)
	}

	resp := TrainBatchResponse{Results: make([]BatchItemResponse, 0, len(results))}
	for _, r := range results {
		item := BatchItemResponse{Index: r.Index, ID: r.ID}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, item)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c echo.Context) error {
	includeShared := c.QueryParam("include_shared") != "false"
	items, err := s.gateway.List(c.Request().Context(),
		store.DatabaseType(c.QueryParam("database_type")),
		c.QueryParam("tenant_id"),
		includeShared,
	)
	if err != nil {
		return httpError(err)
	}

	resp := RetrieveResponse{Matches: make([]MatchResponse, 0, len(items))}
	for _, item := range items {
		resp.Matches = append(resp.Matches, matchResponse(item, 0))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRemove(c echo.Context) error {
	err := s.gateway.Remove(c.Request().Context(), c.Param("id"), c.QueryParam("tenant_id"))
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	sp, ok := s.store.(store.StatsProvider)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "store does not report stats")
	}
	stats, err := sp.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func matchResponse(item store.TrainingItem, distance float32) MatchResponse {
	return MatchResponse{
		ID:           item.ID,
		Kind:         string(item.Kind),
		Content:      item.Content,
		Question:     item.Question,
		DatabaseType: string(item.DatabaseType),
		TenantID:     item.TenantID,
		CreatedAt:    item.CreatedAt.UTC().Format(time.RFC3339Nano),
		Distance:     distance,
	}
}

func trainingRequest(req TrainRequest) training.Request {
	return training.Request{
		Kind:         store.ContentKind(req.Kind),
		Content:      req.Content,
		Question:     req.Question,
		DatabaseType: store.DatabaseType(req.DatabaseType),
		TenantID:     req.TenantID,
		Shared:       req.Shared,
	}
}

// httpError maps the typed domain errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, store.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, policy.ErrTenantNotAllowed):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, training.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, embeddings.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
