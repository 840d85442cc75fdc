// Package core implements the adaptive-questioning engine: constraint
// tracking over the answer history, information-value question selection,
// the five-stage fallback chain, session snapshots, and the learning
// pipeline that folds confirmed outcomes back into the knowledge base.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/playmind/guessball/internal/cache"
	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/core/text"
	"github.com/playmind/guessball/internal/llm"
	"github.com/playmind/guessball/internal/search"
	"github.com/playmind/guessball/internal/store"
)

// GapFiller receives the knowledge-gap batches a turn exposes. Implemented
// by the background expander; a nil filler disables backfilling.
type GapFiller interface {
	FillAttributeAsync(attributeID, questionText string)
}

// Engine ties the collaborators together. It is stateless per turn; the two
// injected caches are the only shared mutable state it touches.
type Engine struct {
	store     store.Store
	matrix    *cache.MatrixCache
	catalog   *cache.Catalog
	llm       llm.Client
	search    search.Client
	gapFiller GapFiller
	log       *zap.Logger

	collaboratorTimeout time.Duration
	recentPathLimit     int
}

// Options tunes engine limits; zero values pick defaults.
type Options struct {
	CollaboratorTimeout time.Duration
	RecentPathLimit     int
}

// New builds an Engine. llmClient and searchClient may be the Noop
// implementations; gapFiller may be nil.
func New(st store.Store, matrix *cache.MatrixCache, catalog *cache.Catalog, llmClient llm.Client, searchClient search.Client, log *zap.Logger, opts Options) *Engine {
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = 12 * time.Second
	}
	if opts.RecentPathLimit <= 0 {
		opts.RecentPathLimit = 500
	}
	if llmClient == nil {
		llmClient = llm.Noop{}
	}
	if searchClient == nil {
		searchClient = search.Noop{}
	}
	return &Engine{
		store:               st,
		matrix:              matrix,
		catalog:             catalog,
		llm:                 llmClient,
		search:              searchClient,
		log:                 log,
		collaboratorTimeout: opts.CollaboratorTimeout,
		recentPathLimit:     opts.RecentPathLimit,
	}
}

// SetGapFiller wires the background expander in after construction (the
// expander itself needs the store the engine was built with).
func (e *Engine) SetGapFiller(f GapFiller) { e.gapFiller = f }

// TurnRequest is one /game call.
type TurnRequest struct {
	History         []model.HistoryItem
	RejectedGuesses []string
	SessionID       string
}

// TurnResponse is the engine's move plus session bookkeeping.
type TurnResponse struct {
	Move      *model.Move
	SessionID string
	ImageURL  string
}

// NextMove produces the next question or guess for the given history. A
// well-formed request always yields a move: upstream failures degrade
// through the matrix cache and the fallback chain, never to the caller.
func (e *Engine) NextMove(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	// Constraint building consults the attribute catalog, so warm it first.
	if len(e.catalog.Attributes()) == 0 {
		_ = e.catalog.Refresh(ctx)
	}

	st := e.buildConstraints(ctx, req.History, req.RejectedGuesses)

	// Names rejected in earlier turns of this session stay excluded even if
	// the client drops them from the request.
	e.mergeSessionRejects(ctx, req.SessionID, st)

	var (
		sessionID string
		summary   *store.CandidateSummary
		stats     []store.AttributeStat
	)

	// Independent read-only fan-out; no ordering among these.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessionID = e.ensureSession(gctx, req.SessionID, st)
		return nil
	})
	g.Go(func() error {
		summary = e.candidateSummary(gctx, st)
		return nil
	})
	g.Go(func() error {
		stats = e.attributeStats(gctx, st)
		return nil
	})
	_ = g.Wait()

	move := e.decide(ctx, st, summary, stats)

	resp := &TurnResponse{Move: move, SessionID: sessionID}
	if move.Type == model.MoveGuess {
		resp.ImageURL = e.guessImage(ctx, move.Content)
	}

	e.registerTransition(ctx, st, move)
	e.persistSnapshot(ctx, sessionID, st, summary, move)

	return resp, nil
}

// decide runs termination check, then the selector, then the fallback chain.
func (e *Engine) decide(ctx context.Context, st *ConstraintState, summary *store.CandidateSummary, stats []store.AttributeStat) *model.Move {
	confidence := summary.Confidence()
	if summary.TopEntityName != "" && !st.IsRejected(summary.TopEntityName) {
		if summary.CandidateCount == 1 || confidence >= guessConfidence {
			return model.NewGuessMove(summary.TopEntityName, confidence, "selector")
		}
	}

	for _, cand := range e.rankAttributes(stats, st) {
		q, err := e.store.BestQuestion(ctx, cand.stat.AttributeID)
		if err != nil {
			continue
		}
		if text.IsNearDuplicate(q.Text, st.AskedNorms, text.NearDuplicateThreshold) {
			continue
		}
		if err := e.store.BumpQuestionSeen(ctx, q.ID); err != nil {
			e.log.Warn("seen counter bump failed", zap.String("question", q.ID), zap.Error(err))
		}
		if e.gapFiller != nil && cand.stat.KnownCount < cand.stat.TotalCount {
			e.gapFiller.FillAttributeAsync(cand.stat.AttributeID, q.Text)
		}
		return model.NewQuestionMove(q.Text, q.ID, q.AttributeID, "selector")
	}

	return e.fallback(ctx, st)
}

// candidateSummary prefers the live aggregate path and falls back to the
// matrix cache when the store fails or returns an empty pool.
func (e *Engine) candidateSummary(ctx context.Context, st *ConstraintState) *store.CandidateSummary {
	summary, err := e.store.CandidateSummary(ctx, st.YesIDs, st.NoIDs, st.RejectedNorms)
	if err == nil && summary.CandidateCount > 0 {
		return summary
	}
	if err != nil {
		e.log.Warn("candidate summary unavailable, using matrix cache", zap.Error(err))
	}
	if !e.matrix.Empty() {
		return e.matrix.Summary(st.YesIDs, st.NoIDs, st.RejectedNorms)
	}
	if summary == nil {
		summary = &store.CandidateSummary{}
	}
	return summary
}

func (e *Engine) attributeStats(ctx context.Context, st *ConstraintState) []store.AttributeStat {
	stats, err := e.store.AttributeStats(ctx, st.YesIDs, st.NoIDs, st.AskedIDs, st.RejectedNorms)
	if err == nil && len(stats) > 0 {
		return stats
	}
	if err != nil {
		e.log.Warn("attribute stats unavailable, using matrix cache", zap.Error(err))
	}
	if !e.matrix.Empty() {
		return e.matrix.Stats(st.YesIDs, st.NoIDs, st.AskedIDs, st.RejectedNorms)
	}
	return stats
}

// mergeSessionRejects folds rejected names recorded on an existing session
// into the turn's constraint state.
func (e *Engine) mergeSessionRejects(ctx context.Context, id string, st *ConstraintState) {
	if _, err := uuid.Parse(id); err != nil {
		return
	}
	prev, err := e.store.GetSession(ctx, id)
	if err != nil {
		return
	}
	for _, name := range prev.RejectedNames {
		if !st.IsRejected(name) {
			st.RejectedRaw = append(st.RejectedRaw, name)
			st.RejectedNorms = append(st.RejectedNorms, text.Normalize(name))
		}
	}
}

// ensureSession upserts the session for a syntactically valid id and
// creates a fresh one otherwise. A store failure yields an ephemeral id so
// the turn still completes.
func (e *Engine) ensureSession(ctx context.Context, id string, st *ConstraintState) string {
	sess := &model.Session{
		Status:        model.SessionInProgress,
		History:       st.History,
		RejectedNames: st.RejectedRaw,
		QuestionCount: len(st.History),
	}
	if _, err := uuid.Parse(id); err == nil {
		sess.ID = id
	}
	stored, err := e.store.UpsertSession(ctx, sess)
	if err != nil {
		e.log.Warn("session upsert failed", zap.Error(err))
		return uuid.New().String()
	}
	return stored
}

// registerTransition feeds the decision graph so later turns can use the
// cheap cached-transition stage. Moves served by that stage already bumped
// their edge and are not counted again.
func (e *Engine) registerTransition(ctx context.Context, st *ConstraintState, move *model.Move) {
	if st.LastNorm == "" || move == nil || move.Source == "transition" {
		return
	}
	edge := &model.TransitionEdge{
		FromNorm: st.LastNorm,
		Answer:   st.LastAnswer,
		NextType: move.Type,
	}
	switch move.Type {
	case model.MoveQuestion:
		if move.QuestionID == "" {
			return
		}
		edge.NextQuestion = move.QuestionID
	case model.MoveGuess:
		edge.NextGuess = move.Content
	}
	if err := e.store.RecordTransition(ctx, edge, false); err != nil {
		e.log.Warn("transition record failed", zap.Error(err))
	}
}

func (e *Engine) persistSnapshot(ctx context.Context, sessionID string, st *ConstraintState, summary *store.CandidateSummary, move *model.Move) {
	snap := &model.Snapshot{
		SessionID:      sessionID,
		YesAttributes:  st.YesIDs,
		NoAttributes:   st.NoIDs,
		AskedAttrIDs:   st.AskedIDs,
		AskedNorms:     st.AskedNorms,
		RejectedNames:  st.RejectedRaw,
		CandidateCount: summary.CandidateCount,
		TopCandidate:   summary.TopEntityName,
		TopProbability: summary.Confidence(),
		LastMove:       move,
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.log.Warn("snapshot persist failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// guessImage resolves an image for a guess: stored profile first, then the
// image search collaborator.
func (e *Engine) guessImage(ctx context.Context, name string) string {
	if entity, err := e.store.MatchEntity(ctx, name, entityMatchThreshold); err == nil && entity.ImageURL != "" {
		return entity.ImageURL
	}
	cctx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	defer cancel()
	url, err := e.search.LookupEntityImage(cctx, name)
	if err != nil {
		return ""
	}
	return url
}
