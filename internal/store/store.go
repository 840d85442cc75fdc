// Package store is the typed gateway to the knowledge base: players,
// features, question phrasings, learned facts, sessions, and the cached
// decision graph. Two implementations exist: GraphStore over Neo4j/Memgraph
// and MemoryStore for tests and seed data.
package store

import (
	"context"
	"errors"

	"github.com/playmind/guessball/internal/core/model"
)

// ErrNotFound is returned by lookups that matched nothing.
var ErrNotFound = errors.New("store: not found")

// CandidateSummary aggregates the candidate pool that survives the current
// constraint set.
type CandidateSummary struct {
	CandidateCount int64   `json:"candidate_count"`
	TopEntityID    string  `json:"top_entity_id"`
	TopEntityName  string  `json:"top_entity_name"`
	TotalWeight    float64 `json:"total_weight"`
	TopWeight      float64 `json:"top_weight"`
}

// Confidence derives the guess probability for the top candidate. Always in
// [0,1].
func (s *CandidateSummary) Confidence() float64 {
	if s == nil {
		return 0
	}
	if s.TotalWeight > 0 {
		c := s.TopWeight / s.TotalWeight
		if c > 1 {
			return 1
		}
		if c < 0 {
			return 0
		}
		return c
	}
	if s.CandidateCount > 0 {
		return 1 / float64(s.CandidateCount)
	}
	return 0
}

// AttributeStat counts, per unasked attribute, how the remaining candidates
// split on it.
type AttributeStat struct {
	AttributeID string `json:"attribute_id"`
	TrueCount   int64  `json:"true_count"`
	KnownCount  int64  `json:"known_count"`
	TotalCount  int64  `json:"total_count"`
}

// MatrixRow is one entity with its full recorded fact row, as served to the
// matrix cache.
type MatrixRow struct {
	Entity model.Entity               `json:"entity"`
	Facts  map[string]model.AnswerKind `json:"facts"`
}

// Gap is a missing fact cell: an entity with no recorded value for an
// attribute.
type Gap struct {
	EntityID       string `json:"entity_id"`
	EntityName     string `json:"entity_name"`
	AttributeID    string `json:"attribute_id"`
	AttributeLabel string `json:"attribute_label"`
}

// Store is the knowledge store gateway. All write operations are idempotent
// upserts; counter bumps are not strictly linearizable under concurrency and
// a rare undercount is accepted.
type Store interface {
	// Attribute catalog.
	ListAttributes(ctx context.Context) ([]model.Attribute, error)
	UpsertAttribute(ctx context.Context, attr model.Attribute) (*model.Attribute, error)

	// Question phrasings.
	UpsertQuestion(ctx context.Context, attributeID, text string) (*model.Question, error)
	BestQuestion(ctx context.Context, attributeID string) (*model.Question, error)
	QuestionByID(ctx context.Context, id string) (*model.Question, error)
	MatchQuestion(ctx context.Context, text string, threshold float64) (*model.Question, error)
	BumpQuestionSeen(ctx context.Context, questionID string) error
	BumpQuestionSuccess(ctx context.Context, questionID string) error

	// Entities and learned facts.
	MatchEntity(ctx context.Context, name string, threshold float64) (*model.Entity, error)
	UpsertEntity(ctx context.Context, name, imageURL string) (*model.Entity, error)
	UpsertFact(ctx context.Context, entityID, attributeID string, answer model.AnswerKind, source string, confidence float64) error

	// Aggregates over the filtered candidate pool.
	CandidateSummary(ctx context.Context, yesIDs, noIDs, rejectedNorms []string) (*CandidateSummary, error)
	AttributeStats(ctx context.Context, yesIDs, noIDs, askedIDs, rejectedNorms []string) ([]AttributeStat, error)
	MatrixRows(ctx context.Context, topN int) ([]MatrixRow, error)
	AttributeGaps(ctx context.Context, attributeID string, limit int) ([]Gap, error)

	// Sessions and snapshots.
	UpsertSession(ctx context.Context, s *model.Session) (string, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	CloseSession(ctx context.Context, id, status, guessName, guessID string, questionCount int) error
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error

	// Decision graph and completed play paths.
	TransitionsFrom(ctx context.Context, fromNorm string, answer model.AnswerKind) ([]model.TransitionEdge, error)
	RecordTransition(ctx context.Context, e *model.TransitionEdge, success bool) error
	RecentPaths(ctx context.Context, limit int) ([]model.PlayPath, error)
	SavePath(ctx context.Context, p *model.PlayPath) error

	// Offline repair queue.
	EnqueueLearning(ctx context.Context, item *model.LearningQueueItem) error
}
