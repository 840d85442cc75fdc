package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/core/text"
)

// GraphStore implements Store over a Neo4j/Memgraph instance reached through
// the bolt protocol.
type GraphStore struct {
	driver neo4j.DriverWithContext
	log    *zap.Logger
}

// NewGraphStore connects to the graph database, verifies connectivity, and
// ensures the lookup indices exist.
func NewGraphStore(uri, username, password string, log *zap.Logger) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, err
	}
	g := &GraphStore{driver: driver, log: log}
	if err := g.BuildIndices(context.Background()); err != nil {
		return nil, err
	}
	log.Info("connected to graph store", zap.String("uri", uri))
	return g, nil
}

// Close releases the underlying driver.
func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// BuildIndices creates lookup indices. Errors from already-existing indices
// are logged and ignored.
func (g *GraphStore) BuildIndices(ctx context.Context) error {
	for _, q := range buildIndexQueries {
		if _, err := g.run(ctx, q, nil); err != nil {
			g.log.Debug("index creation skipped", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}

func (g *GraphStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, g.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}
	return result, nil
}

func recString(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func recInt(rec *neo4j.Record, key string) int64 {
	if v, ok := rec.Get(key); ok {
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
	}
	return 0
}

func recFloat(rec *neo4j.Record, key string) float64 {
	if v, ok := rec.Get(key); ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	}
	return 0
}

func recBool(rec *neo4j.Record, key string) bool {
	if v, ok := rec.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func recTime(rec *neo4j.Record, key string) time.Time {
	if v, ok := rec.Get(key); ok {
		switch t := v.(type) {
		case time.Time:
			return t
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

func questionFromRecord(rec *neo4j.Record) *model.Question {
	return &model.Question{
		ID:             recString(rec, "uuid"),
		AttributeID:    recString(rec, "feature_uuid"),
		Text:           recString(rec, "text"),
		NormalizedText: recString(rec, "normalized_text"),
		SeenCount:      recInt(rec, "seen_count"),
		SuccessCount:   recInt(rec, "success_count"),
	}
}

func entityFromRecord(rec *neo4j.Record) *model.Entity {
	return &model.Entity{
		ID:             recString(rec, "uuid"),
		Name:           recString(rec, "name"),
		NormalizedName: recString(rec, "normalized_name"),
		PriorWeight:    recFloat(rec, "prior_weight"),
		ImageURL:       recString(rec, "image_url"),
	}
}

func strList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func (g *GraphStore) ListAttributes(ctx context.Context) ([]model.Attribute, error) {
	result, err := g.run(ctx, listAttributesQuery, nil)
	if err != nil {
		return nil, err
	}
	attrs := make([]model.Attribute, 0, len(result.Records))
	for _, rec := range result.Records {
		attrs = append(attrs, model.Attribute{
			ID:        recString(rec, "uuid"),
			Key:       recString(rec, "key"),
			Value:     recString(rec, "value"),
			Label:     recString(rec, "label"),
			Group:     recString(rec, "grp"),
			Exclusive: recBool(rec, "is_exclusive"),
		})
	}
	return attrs, nil
}

func (g *GraphStore) UpsertAttribute(ctx context.Context, attr model.Attribute) (*model.Attribute, error) {
	if attr.Group == "" {
		attr.Group = attr.Key
	}
	result, err := g.run(ctx, upsertAttributeQuery, map[string]any{
		"uuid":             uuid.New().String(),
		"key":              attr.Key,
		"value":            attr.Value,
		"label":            attr.Label,
		"grp":              attr.Group,
		"is_exclusive":     attr.Exclusive,
		"normalized_key":   text.Normalize(attr.Key),
		"normalized_value": text.Normalize(attr.Value),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	rec := result.Records[0]
	return &model.Attribute{
		ID:        recString(rec, "uuid"),
		Key:       recString(rec, "key"),
		Value:     recString(rec, "value"),
		Label:     recString(rec, "label"),
		Group:     recString(rec, "grp"),
		Exclusive: recBool(rec, "is_exclusive"),
	}, nil
}

func (g *GraphStore) UpsertQuestion(ctx context.Context, attributeID, questionText string) (*model.Question, error) {
	result, err := g.run(ctx, upsertQuestionQuery, map[string]any{
		"uuid":            uuid.New().String(),
		"feature_uuid":    attributeID,
		"text":            questionText,
		"normalized_text": text.Normalize(questionText),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	return questionFromRecord(result.Records[0]), nil
}

func (g *GraphStore) BestQuestion(ctx context.Context, attributeID string) (*model.Question, error) {
	result, err := g.run(ctx, bestQuestionQuery, map[string]any{"feature_uuid": attributeID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	return questionFromRecord(result.Records[0]), nil
}

func (g *GraphStore) QuestionByID(ctx context.Context, id string) (*model.Question, error) {
	result, err := g.run(ctx, questionByIDQuery, map[string]any{"uuid": id})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	return questionFromRecord(result.Records[0]), nil
}

// MatchQuestion resolves a phrasing first by exact normalized match, then by
// trigram similarity against the full phrasing list. The list is small
// enough (hundreds) that client-side scoring is cheaper than a text index.
func (g *GraphStore) MatchQuestion(ctx context.Context, questionText string, threshold float64) (*model.Question, error) {
	norm := text.Normalize(questionText)
	if norm == "" {
		return nil, ErrNotFound
	}
	result, err := g.run(ctx, questionByNormQuery, map[string]any{"normalized_text": norm})
	if err != nil {
		return nil, err
	}
	if len(result.Records) > 0 {
		return questionFromRecord(result.Records[0]), nil
	}

	all, err := g.run(ctx, allQuestionsQuery, nil)
	if err != nil {
		return nil, err
	}
	var best *model.Question
	bestScore := 0.0
	for _, rec := range all.Records {
		q := questionFromRecord(rec)
		score := text.Similarity(norm, q.NormalizedText)
		if score >= threshold && (best == nil || score > bestScore || (score == bestScore && q.ID < best.ID)) {
			best = q
			bestScore = score
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (g *GraphStore) BumpQuestionSeen(ctx context.Context, questionID string) error {
	_, err := g.run(ctx, bumpQuestionSeenQuery, map[string]any{"uuid": questionID})
	return err
}

func (g *GraphStore) BumpQuestionSuccess(ctx context.Context, questionID string) error {
	_, err := g.run(ctx, bumpQuestionSuccessQuery, map[string]any{"uuid": questionID})
	return err
}

func (g *GraphStore) MatchEntity(ctx context.Context, name string, threshold float64) (*model.Entity, error) {
	norm := text.Normalize(name)
	if norm == "" {
		return nil, ErrNotFound
	}
	result, err := g.run(ctx, entityByNormQuery, map[string]any{"normalized_name": norm})
	if err != nil {
		return nil, err
	}
	if len(result.Records) > 0 {
		return entityFromRecord(result.Records[0]), nil
	}

	all, err := g.run(ctx, allEntityNamesQuery, nil)
	if err != nil {
		return nil, err
	}
	var best *model.Entity
	bestScore := 0.0
	for _, rec := range all.Records {
		e := entityFromRecord(rec)
		score := text.Similarity(norm, e.NormalizedName)
		if score >= threshold && (best == nil || score > bestScore) {
			best = e
			bestScore = score
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (g *GraphStore) UpsertEntity(ctx context.Context, name, imageURL string) (*model.Entity, error) {
	norm := text.Normalize(name)
	if norm == "" {
		return nil, ErrNotFound
	}
	result, err := g.run(ctx, upsertEntityQuery, map[string]any{
		"uuid":            uuid.New().String(),
		"name":            name,
		"normalized_name": norm,
		"image_url":       imageURL,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	return entityFromRecord(result.Records[0]), nil
}

func (g *GraphStore) UpsertFact(ctx context.Context, entityID, attributeID string, answer model.AnswerKind, source string, confidence float64) error {
	_, err := g.run(ctx, upsertFactQuery, map[string]any{
		"player_uuid":  entityID,
		"feature_uuid": attributeID,
		"answer":       string(answer),
		"source":       source,
		"confidence":   confidence,
	})
	return err
}

func (g *GraphStore) CandidateSummary(ctx context.Context, yesIDs, noIDs, rejectedNorms []string) (*CandidateSummary, error) {
	result, err := g.run(ctx, candidateSummaryQuery, map[string]any{
		"yes_ids":  strList(yesIDs),
		"no_ids":   strList(noIDs),
		"rejected": strList(rejectedNorms),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return &CandidateSummary{}, nil
	}
	rec := result.Records[0]
	return &CandidateSummary{
		CandidateCount: recInt(rec, "candidate_count"),
		TopEntityID:    recString(rec, "top_uuid"),
		TopEntityName:  recString(rec, "top_name"),
		TotalWeight:    recFloat(rec, "total_weight"),
		TopWeight:      recFloat(rec, "top_weight"),
	}, nil
}

func (g *GraphStore) AttributeStats(ctx context.Context, yesIDs, noIDs, askedIDs, rejectedNorms []string) ([]AttributeStat, error) {
	result, err := g.run(ctx, attributeStatsQuery, map[string]any{
		"yes_ids":   strList(yesIDs),
		"no_ids":    strList(noIDs),
		"asked_ids": strList(askedIDs),
		"rejected":  strList(rejectedNorms),
	})
	if err != nil {
		return nil, err
	}
	stats := make([]AttributeStat, 0, len(result.Records))
	for _, rec := range result.Records {
		stats = append(stats, AttributeStat{
			AttributeID: recString(rec, "attribute_id"),
			TrueCount:   recInt(rec, "true_count"),
			KnownCount:  recInt(rec, "known_count"),
			TotalCount:  recInt(rec, "total_count"),
		})
	}
	return stats, nil
}

func (g *GraphStore) MatrixRows(ctx context.Context, topN int) ([]MatrixRow, error) {
	result, err := g.run(ctx, matrixRowsQuery, map[string]any{"top_n": topN})
	if err != nil {
		return nil, err
	}
	rows := make([]MatrixRow, 0, len(result.Records))
	for _, rec := range result.Records {
		row := MatrixRow{Entity: *entityFromRecord(rec), Facts: make(map[string]model.AnswerKind)}
		if v, ok := rec.Get("facts"); ok {
			if cells, ok := v.([]any); ok {
				for _, c := range cells {
					cell, ok := c.(map[string]any)
					if !ok {
						continue
					}
					fid, _ := cell["feature"].(string)
					ans, _ := cell["answer"].(string)
					if fid != "" && ans != "" {
						row.Facts[fid] = model.AnswerKind(ans)
					}
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *GraphStore) AttributeGaps(ctx context.Context, attributeID string, limit int) ([]Gap, error) {
	result, err := g.run(ctx, attributeGapsQuery, map[string]any{
		"feature_uuid": attributeID,
		"limit":        limit,
	})
	if err != nil {
		return nil, err
	}
	gaps := make([]Gap, 0, len(result.Records))
	for _, rec := range result.Records {
		gaps = append(gaps, Gap{
			EntityID:       recString(rec, "uuid"),
			EntityName:     recString(rec, "name"),
			AttributeID:    recString(rec, "feature_uuid"),
			AttributeLabel: recString(rec, "label"),
		})
	}
	return gaps, nil
}

func (g *GraphStore) UpsertSession(ctx context.Context, sess *model.Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = model.SessionInProgress
	}
	history, err := json.Marshal(sess.History)
	if err != nil {
		return "", err
	}
	rejected, err := json.Marshal(sess.RejectedNames)
	if err != nil {
		return "", err
	}
	result, err := g.run(ctx, upsertSessionQuery, map[string]any{
		"uuid":           sess.ID,
		"status":         sess.Status,
		"history":        string(history),
		"rejected":       string(rejected),
		"question_count": len(sess.History),
		"now":            time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", ErrNotFound
	}
	return recString(result.Records[0], "uuid"), nil
}

func (g *GraphStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	result, err := g.run(ctx, getSessionQuery, map[string]any{"uuid": id})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	rec := result.Records[0]
	sess := &model.Session{
		ID:            recString(rec, "uuid"),
		Status:        recString(rec, "status"),
		QuestionCount: int(recInt(rec, "question_count")),
		CreatedAt:     recTime(rec, "created_at"),
		UpdatedAt:     recTime(rec, "updated_at"),
	}
	if raw := recString(rec, "history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.History); err != nil {
			g.log.Warn("corrupt session history", zap.String("session", id), zap.Error(err))
		}
	}
	if raw := recString(rec, "rejected"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.RejectedNames); err != nil {
			g.log.Warn("corrupt rejected list", zap.String("session", id), zap.Error(err))
		}
	}
	return sess, nil
}

func (g *GraphStore) CloseSession(ctx context.Context, id, status, guessName, guessID string, questionCount int) error {
	_, err := g.run(ctx, closeSessionQuery, map[string]any{
		"uuid":           id,
		"status":         status,
		"guessed_name":   guessName,
		"guessed_uuid":   guessID,
		"question_count": questionCount,
		"now":            time.Now().UTC(),
	})
	return err
}

func (g *GraphStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = g.run(ctx, saveSnapshotQuery, map[string]any{
		"uuid":     snap.SessionID,
		"snapshot": string(raw),
		"now":      time.Now().UTC(),
	})
	return err
}

func (g *GraphStore) GetSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	result, err := g.run(ctx, getSnapshotQuery, map[string]any{"uuid": sessionID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	raw := recString(result.Records[0], "snapshot")
	if raw == "" {
		return nil, ErrNotFound
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot: %w", err)
	}
	return &snap, nil
}

func (g *GraphStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	_, err := g.run(ctx, deleteSnapshotQuery, map[string]any{"uuid": sessionID})
	return err
}

func (g *GraphStore) TransitionsFrom(ctx context.Context, fromNorm string, answer model.AnswerKind) ([]model.TransitionEdge, error) {
	result, err := g.run(ctx, transitionsFromQuery, map[string]any{
		"from_norm": fromNorm,
		"answer":    string(answer),
	})
	if err != nil {
		return nil, err
	}
	edges := make([]model.TransitionEdge, 0, len(result.Records))
	for _, rec := range result.Records {
		edges = append(edges, model.TransitionEdge{
			FromNorm:     recString(rec, "from_norm"),
			Answer:       model.AnswerKind(recString(rec, "answer")),
			NextType:     model.MoveType(recString(rec, "next_type")),
			NextQuestion: recString(rec, "next_question"),
			NextGuess:    recString(rec, "next_guess"),
			SeenCount:    recInt(rec, "seen_count"),
			SuccessCount: recInt(rec, "success_count"),
			UpdatedAt:    recTime(rec, "updated_at"),
		})
	}
	return edges, nil
}

func (g *GraphStore) RecordTransition(ctx context.Context, e *model.TransitionEdge, success bool) error {
	delta := 0
	if success {
		delta = 1
	}
	_, err := g.run(ctx, recordTransitionQuery, map[string]any{
		"from_norm":     e.FromNorm,
		"answer":        string(e.Answer),
		"next_type":     string(e.NextType),
		"next_question": e.NextQuestion,
		"next_guess":    e.NextGuess,
		"success_delta": delta,
		"now":           time.Now().UTC(),
	})
	return err
}

func (g *GraphStore) RecentPaths(ctx context.Context, limit int) ([]model.PlayPath, error) {
	result, err := g.run(ctx, recentPathsQuery, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	paths := make([]model.PlayPath, 0, len(result.Records))
	for _, rec := range result.Records {
		p := model.PlayPath{
			ID:         recString(rec, "uuid"),
			EntityID:   recString(rec, "entity_uuid"),
			EntityName: recString(rec, "entity_name"),
			CreatedAt:  recTime(rec, "created_at"),
		}
		if raw := recString(rec, "steps"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &p.Steps); err != nil {
				continue
			}
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (g *GraphStore) SavePath(ctx context.Context, p *model.PlayPath) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return err
	}
	_, err = g.run(ctx, savePathQuery, map[string]any{
		"uuid":        p.ID,
		"entity_uuid": p.EntityID,
		"entity_name": p.EntityName,
		"steps":       string(steps),
		"now":         time.Now().UTC(),
	})
	return err
}

func (g *GraphStore) EnqueueLearning(ctx context.Context, item *model.LearningQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	history, err := json.Marshal(item.History)
	if err != nil {
		return err
	}
	_, err = g.run(ctx, enqueueLearningQuery, map[string]any{
		"uuid":       item.ID,
		"reason":     item.Reason,
		"guess_name": item.GuessName,
		"confidence": item.Confidence,
		"history":    string(history),
		"now":        time.Now().UTC(),
	})
	return err
}

var _ Store = (*GraphStore)(nil)
