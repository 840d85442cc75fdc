// Package server exposes the game engine over HTTP: one endpoint per game
// operation plus a health check, mirroring the public API contract.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/cache"
	"github.com/playmind/guessball/internal/config"
	"github.com/playmind/guessball/internal/core"
	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/llm"
	"github.com/playmind/guessball/internal/search"
	"github.com/playmind/guessball/internal/store"
	"github.com/playmind/guessball/internal/worker"
)

// Server bundles the engine with the caches and workers whose lifecycle it
// owns.
type Server struct {
	Engine   *core.Engine
	Matrix   *cache.MatrixCache
	Catalog  *cache.Catalog
	Expander *worker.Expander
	log      *zap.Logger

	storeKind   string
	llmReady    bool
	searchReady bool
}

// NewServer wires the full stack from configuration: the knowledge store
// (graph-backed when a URI is configured, in-memory otherwise), the derived
// caches, the model and search collaborators, the engine, and the
// background expander.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	storeKind := "graph"
	var st store.Store
	if cfg.Graph.URI != "" {
		gs, err := store.NewGraphStore(cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, log)
		if err != nil {
			return nil, err
		}
		st = gs
	} else {
		log.Warn("no graph uri configured, using in-memory store")
		st = store.NewMemoryStore()
		storeKind = "memory"
	}

	llmClient, err := llm.NewClient(context.Background(), cfg.LLM)
	if err != nil {
		return nil, err
	}
	searchClient := search.New(cfg.Search.APIKey, cfg.Search.BaseURL, cfg.Search.Country, cfg.Search.Lang, cfg.CollaboratorTimeout(), log)

	matrix := cache.NewMatrixCache(st, cfg.Engine.MatrixTopN, cfg.MatrixRefreshInterval(), log)
	catalog := cache.NewCatalog(st, cfg.MatrixRefreshInterval(), log)

	engine := core.New(st, matrix, catalog, llmClient, searchClient, log, core.Options{
		CollaboratorTimeout: cfg.CollaboratorTimeout(),
		RecentPathLimit:     cfg.Engine.RecentPathLimit,
	})

	expander := worker.New(st, catalog, llmClient, log, worker.Options{
		BatchSize: cfg.Engine.ExpanderBatchSize,
		Interval:  time.Duration(cfg.Engine.ExpanderIntervalMinutes) * time.Minute,
		Timeout:   cfg.CollaboratorTimeout(),
	})
	engine.SetGapFiller(expander)

	return &Server{
		Engine:      engine,
		Matrix:      matrix,
		Catalog:     catalog,
		Expander:    expander,
		log:         log,
		storeKind:   storeKind,
		llmReady:    llm.Available(llmClient),
		searchReady: cfg.Search.APIKey != "",
	}, nil
}

// Start warms and launches the background refreshers.
func (s *Server) Start(ctx context.Context) {
	if err := s.Matrix.Refresh(ctx); err != nil {
		s.log.Warn("initial matrix refresh failed", zap.Error(err))
	}
	if err := s.Catalog.Refresh(ctx); err != nil {
		s.log.Warn("initial catalog refresh failed", zap.Error(err))
	}
	s.Matrix.Start(ctx)
	s.Catalog.Start(ctx)
	s.Expander.Start()
}

// Stop halts the background refreshers.
func (s *Server) Stop() {
	s.Matrix.Stop()
	s.Catalog.Stop()
	s.Expander.Stop()
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/api/health", s.Health)
	r.POST("/api/game", s.Game)
	r.POST("/api/confirm", s.Confirm)
	r.POST("/api/confirm-final", s.ConfirmFinal)

	return r
}

type gameRequest struct {
	SessionID       string              `json:"sessionId"`
	History         []model.HistoryItem `json:"history"`
	RejectedGuesses []string            `json:"rejectedGuesses"`
}

type gameResponse struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	SessionID  string  `json:"session_id"`
	QuestionID string  `json:"question_id,omitempty"`
	FeatureID  string  `json:"feature_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Meta       string  `json:"meta,omitempty"`
	ImageURL   string  `json:"imageUrl,omitempty"`
}

func (s *Server) Game(c *gin.Context) {
	var req gameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := s.Engine.NextMove(c.Request.Context(), core.TurnRequest{
		SessionID:       req.SessionID,
		History:         req.History,
		RejectedGuesses: req.RejectedGuesses,
	})
	if err != nil {
		s.log.Error("turn failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to produce a move"})
		return
	}

	c.JSON(http.StatusOK, gameResponse{
		Type:       string(resp.Move.Type),
		Content:    resp.Move.Content,
		SessionID:  resp.SessionID,
		QuestionID: resp.Move.QuestionID,
		FeatureID:  resp.Move.AttributeID,
		Confidence: resp.Move.Confidence,
		Meta:       resp.Move.Source,
		ImageURL:   resp.ImageURL,
	})
}

type confirmRequest struct {
	SessionID string              `json:"sessionId"`
	Guess     string              `json:"guess"`
	Correct   *bool               `json:"correct"`
	History   []model.HistoryItem `json:"history"`
}

type verificationBlock struct {
	Items []model.VerificationItem `json:"items"`
}

type confirmResponse struct {
	OK             bool               `json:"ok"`
	Correct        bool               `json:"correct"`
	Stored         bool               `json:"stored"`
	ReviewRequired bool               `json:"reviewRequired,omitempty"`
	Verification   *verificationBlock `json:"verification,omitempty"`
	ImageURL       string             `json:"imageUrl,omitempty"`
}

func (s *Server) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Correct == nil || req.Guess == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := s.Engine.Confirm(c.Request.Context(), core.ConfirmRequest{
		SessionID: req.SessionID,
		GuessName: req.Guess,
		Correct:   *req.Correct,
		History:   req.History,
	})
	if err != nil {
		s.log.Error("confirm failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process confirmation"})
		return
	}

	resp := confirmResponse{OK: true}
	switch result.Status {
	case "confirmed":
		resp.Correct = true
		resp.Stored = true
		resp.ImageURL = result.ImageURL
	case "review":
		resp.Correct = true
		resp.ReviewRequired = true
		resp.Verification = &verificationBlock{Items: result.Suspect}
	}
	c.JSON(http.StatusOK, resp)
}

type confirmFinalRequest struct {
	SessionID string              `json:"sessionId"`
	Guess     string              `json:"guess"`
	History   []model.HistoryItem `json:"history"`
}

type confirmFinalResponse struct {
	OK        bool   `json:"ok"`
	Stored    bool   `json:"stored"`
	PlayerID  string `json:"playerId"`
	ImageURL  string `json:"imageUrl,omitempty"`
	SessionID string `json:"sessionId"`
}

func (s *Server) ConfirmFinal(c *gin.Context) {
	var req confirmFinalRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Guess == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := s.Engine.ConfirmFinal(c.Request.Context(), core.ConfirmRequest{
		SessionID: req.SessionID,
		GuessName: req.Guess,
		Correct:   true,
		History:   req.History,
	})
	if err != nil {
		s.log.Error("final confirm failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process confirmation"})
		return
	}

	c.JSON(http.StatusOK, confirmFinalResponse{
		OK:        true,
		Stored:    true,
		PlayerID:  result.EntityID,
		ImageURL:  result.ImageURL,
		SessionID: result.SessionID,
	})
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"store":  s.storeKind,
		"llm":    s.llmReady,
		"search": s.searchReady,
	})
}
