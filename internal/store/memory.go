package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/core/text"
)

// MemoryStore is a complete in-memory Store. It backs unit tests, seed
// loading, and any deployment that runs without a graph database.
type MemoryStore struct {
	mu          sync.RWMutex
	attributes  map[string]model.Attribute // by id
	questions   map[string]model.Question  // by id
	entities    map[string]model.Entity    // by id
	facts       map[string]map[string]factCell
	sessions    map[string]model.Session
	snapshots   map[string]model.Snapshot
	transitions map[string]model.TransitionEdge
	paths       []model.PlayPath
	queue       []model.LearningQueueItem
}

type factCell struct {
	answer     model.AnswerKind
	source     string
	confidence float64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attributes:  make(map[string]model.Attribute),
		questions:   make(map[string]model.Question),
		entities:    make(map[string]model.Entity),
		facts:       make(map[string]map[string]factCell),
		sessions:    make(map[string]model.Session),
		snapshots:   make(map[string]model.Snapshot),
		transitions: make(map[string]model.TransitionEdge),
	}
}

func (s *MemoryStore) ListAttributes(ctx context.Context) ([]model.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Attribute, 0, len(s.attributes))
	for _, a := range s.attributes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertAttribute(ctx context.Context, attr model.Attribute) (*model.Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := text.Normalize(attr.Key)
	value := text.Normalize(attr.Value)
	for _, existing := range s.attributes {
		if text.Normalize(existing.Key) == key && text.Normalize(existing.Value) == value {
			return &existing, nil
		}
	}
	if attr.ID == "" {
		attr.ID = uuid.New().String()
	}
	if attr.Group == "" {
		attr.Group = attr.Key
	}
	s.attributes[attr.ID] = attr
	return &attr, nil
}

func (s *MemoryStore) UpsertQuestion(ctx context.Context, attributeID, questionText string) (*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := text.Normalize(questionText)
	for _, q := range s.questions {
		if q.AttributeID == attributeID && q.NormalizedText == norm {
			return &q, nil
		}
	}
	q := model.Question{
		ID:             uuid.New().String(),
		AttributeID:    attributeID,
		Text:           questionText,
		NormalizedText: norm,
	}
	s.questions[q.ID] = q
	return &q, nil
}

// BestQuestion picks the phrasing with the highest success count for an
// attribute, ties broken by seen count then id.
func (s *MemoryStore) BestQuestion(ctx context.Context, attributeID string) (*model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.Question
	for id := range s.questions {
		q := s.questions[id]
		if q.AttributeID != attributeID {
			continue
		}
		if best == nil ||
			q.SuccessCount > best.SuccessCount ||
			(q.SuccessCount == best.SuccessCount && q.SeenCount > best.SeenCount) ||
			(q.SuccessCount == best.SuccessCount && q.SeenCount == best.SeenCount && q.ID < best.ID) {
			qq := q
			best = &qq
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) QuestionByID(ctx context.Context, id string) (*model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}

func (s *MemoryStore) MatchQuestion(ctx context.Context, questionText string, threshold float64) (*model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := text.Normalize(questionText)
	if norm == "" {
		return nil, ErrNotFound
	}
	var best *model.Question
	bestScore := 0.0
	for id := range s.questions {
		q := s.questions[id]
		if q.NormalizedText == norm {
			qq := q
			return &qq, nil
		}
		score := text.Similarity(norm, q.NormalizedText)
		if score >= threshold && (best == nil || score > bestScore || (score == bestScore && q.ID < best.ID)) {
			qq := q
			best = &qq
			bestScore = score
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) BumpQuestionSeen(ctx context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.questions[questionID]; ok {
		q.SeenCount++
		s.questions[questionID] = q
	}
	return nil
}

func (s *MemoryStore) BumpQuestionSuccess(ctx context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.questions[questionID]; ok {
		q.SuccessCount++
		s.questions[questionID] = q
	}
	return nil
}

func (s *MemoryStore) MatchEntity(ctx context.Context, name string, threshold float64) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := text.Normalize(name)
	if norm == "" {
		return nil, ErrNotFound
	}
	var best *model.Entity
	bestScore := 0.0
	for id := range s.entities {
		e := s.entities[id]
		if e.NormalizedName == norm {
			ee := e
			return &ee, nil
		}
		score := text.Similarity(norm, e.NormalizedName)
		if score >= threshold && (best == nil || score > bestScore) {
			ee := e
			best = &ee
			bestScore = score
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) UpsertEntity(ctx context.Context, name, imageURL string) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := text.Normalize(name)
	if norm == "" {
		return nil, ErrNotFound
	}
	for id := range s.entities {
		e := s.entities[id]
		if e.NormalizedName == norm {
			if imageURL != "" && e.ImageURL == "" {
				e.ImageURL = imageURL
				s.entities[id] = e
			}
			return &e, nil
		}
	}
	e := model.Entity{
		ID:             uuid.New().String(),
		Name:           name,
		NormalizedName: norm,
		PriorWeight:    1,
		ImageURL:       imageURL,
	}
	s.entities[e.ID] = e
	return &e, nil
}

func (s *MemoryStore) UpsertFact(ctx context.Context, entityID, attributeID string, answer model.AnswerKind, source string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.facts[entityID]
	if row == nil {
		row = make(map[string]factCell)
		s.facts[entityID] = row
	}
	// Confirmed facts are ground truth and are never downgraded by an LLM
	// backfill.
	if existing, ok := row[attributeID]; ok && existing.source == "confirmed" && source != "confirmed" {
		return nil
	}
	row[attributeID] = factCell{answer: answer, source: source, confidence: confidence}
	return nil
}

// matrix assembles the current fact table. Callers hold at least a read lock.
func (s *MemoryStore) matrixLocked() *Matrix {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	m := &Matrix{Rows: make([]MatrixRow, 0, len(ids))}
	for _, id := range ids {
		row := MatrixRow{Entity: s.entities[id], Facts: make(map[string]model.AnswerKind)}
		for attrID, cell := range s.facts[id] {
			row.Facts[attrID] = cell.answer
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

func (s *MemoryStore) CandidateSummary(ctx context.Context, yesIDs, noIDs, rejectedNorms []string) (*CandidateSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrixLocked().Summary(yesIDs, noIDs, rejectedNorms), nil
}

func (s *MemoryStore) AttributeStats(ctx context.Context, yesIDs, noIDs, askedIDs, rejectedNorms []string) ([]AttributeStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrixLocked().Stats(yesIDs, noIDs, askedIDs, rejectedNorms), nil
}

func (s *MemoryStore) MatrixRows(ctx context.Context, topN int) ([]MatrixRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.matrixLocked().Rows
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Entity.PriorWeight > rows[j].Entity.PriorWeight })
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	return rows, nil
}

func (s *MemoryStore) AttributeGaps(ctx context.Context, attributeID string, limit int) ([]Gap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	label := ""
	if attr, ok := s.attributes[attributeID]; ok {
		label = attr.Label
	}
	return s.matrixLocked().Gaps(attributeID, label, limit), nil
}

func (s *MemoryStore) UpsertSession(ctx context.Context, sess *model.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if sess.ID == "" {
		sess.ID = uuid.New().String()
		sess.CreatedAt = now
	}
	if existing, ok := s.sessions[sess.ID]; ok {
		sess.CreatedAt = existing.CreatedAt
	} else if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.Status == "" {
		sess.Status = model.SessionInProgress
	}
	sess.UpdatedAt = now
	s.sessions[sess.ID] = *sess
	return sess.ID, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, id, status, guessName, guessID string, questionCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	sess.GuessedName = guessName
	sess.GuessedID = guessID
	sess.QuestionCount = questionCount
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.UpdatedAt = time.Now().UTC()
	s.snapshots[snap.SessionID] = *snap
	return nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (s *MemoryStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}

func transitionKey(e *model.TransitionEdge) string {
	return e.FromNorm + "|" + string(e.Answer) + "|" + string(e.NextType) + "|" + e.NextQuestion + "|" + e.NextGuess
}

func (s *MemoryStore) TransitionsFrom(ctx context.Context, fromNorm string, answer model.AnswerKind) ([]model.TransitionEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TransitionEdge
	for _, e := range s.transitions {
		if e.FromNorm == fromNorm && e.Answer == answer {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeenCount != out[j].SeenCount {
			return out[i].SeenCount > out[j].SeenCount
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) RecordTransition(ctx context.Context, e *model.TransitionEdge, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := transitionKey(e)
	cur, ok := s.transitions[key]
	if !ok {
		cur = *e
		cur.SeenCount = 0
		cur.SuccessCount = 0
	}
	cur.SeenCount++
	if success {
		cur.SuccessCount++
	}
	cur.UpdatedAt = time.Now().UTC()
	s.transitions[key] = cur
	return nil
}

func (s *MemoryStore) RecentPaths(ctx context.Context, limit int) ([]model.PlayPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]model.PlayPath, len(s.paths))
	copy(paths, s.paths)
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].CreatedAt.After(paths[j].CreatedAt) })
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

func (s *MemoryStore) SavePath(ctx context.Context, p *model.PlayPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.paths = append(s.paths, *p)
	return nil
}

func (s *MemoryStore) EnqueueLearning(ctx context.Context, item *model.LearningQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.queue = append(s.queue, *item)
	return nil
}

// LearningQueue returns a copy of the queued repair items. Used by tests and
// the offline repair tooling.
func (s *MemoryStore) LearningQueue() []model.LearningQueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LearningQueueItem, len(s.queue))
	copy(out, s.queue)
	return out
}

var _ Store = (*MemoryStore)(nil)
