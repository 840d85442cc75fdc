package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmind/guessball/internal/core/model"
)

func seedStore(t *testing.T) (*MemoryStore, string, string) {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()

	europe, err := s.UpsertAttribute(ctx, model.Attribute{Key: "region", Value: "europe", Label: "يلعب في أوروبا"})
	require.NoError(t, err)
	striker, err := s.UpsertAttribute(ctx, model.Attribute{Key: "position", Value: "striker", Label: "يلعب كمهاجم"})
	require.NoError(t, err)

	for _, p := range []struct {
		name    string
		europe  model.AnswerKind
		striker model.AnswerKind
	}{
		{"Mohamed Salah", model.AnswerYes, model.AnswerYes},
		{"Kevin De Bruyne", model.AnswerYes, model.AnswerNo},
		{"Lionel Messi", model.AnswerNo, model.AnswerNo},
	} {
		e, err := s.UpsertEntity(ctx, p.name, "")
		require.NoError(t, err)
		require.NoError(t, s.UpsertFact(ctx, e.ID, europe.ID, p.europe, "confirmed", 1))
		require.NoError(t, s.UpsertFact(ctx, e.ID, striker.ID, p.striker, "confirmed", 1))
	}
	return s, europe.ID, striker.ID
}

func TestCandidateSummaryNarrowsMonotonically(t *testing.T) {
	s, europeID, strikerID := seedStore(t)
	ctx := context.Background()

	all, err := s.CandidateSummary(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.CandidateCount)

	one, err := s.CandidateSummary(ctx, []string{europeID}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), one.CandidateCount)

	two, err := s.CandidateSummary(ctx, []string{europeID, strikerID}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), two.CandidateCount)
	assert.Equal(t, "Mohamed Salah", two.TopEntityName)
	assert.LessOrEqual(t, two.CandidateCount, one.CandidateCount)
	assert.LessOrEqual(t, one.CandidateCount, all.CandidateCount)
}

func TestCandidateSummaryUnrecordedFactDoesNotEliminate(t *testing.T) {
	s, europeID, _ := seedStore(t)
	ctx := context.Background()

	// A player with no recorded europe fact must survive a europe
	// constraint in either direction.
	_, err := s.UpsertEntity(ctx, "Unknown Rookie", "")
	require.NoError(t, err)

	yes, err := s.CandidateSummary(ctx, []string{europeID}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), yes.CandidateCount)

	no, err := s.CandidateSummary(ctx, nil, []string{europeID}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), no.CandidateCount)
}

func TestCandidateSummaryExcludesRejected(t *testing.T) {
	s, europeID, strikerID := seedStore(t)
	ctx := context.Background()

	sum, err := s.CandidateSummary(ctx, []string{europeID, strikerID}, nil, []string{"mohamed salah"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.CandidateCount)
}

func TestAttributeStatsCounts(t *testing.T) {
	s, europeID, strikerID := seedStore(t)

	stats, err := s.AttributeStats(context.Background(), nil, nil, nil, nil)
	require.NoError(t, err)
	byID := make(map[string]AttributeStat)
	for _, st := range stats {
		byID[st.AttributeID] = st
	}

	assert.Equal(t, int64(2), byID[europeID].TrueCount)
	assert.Equal(t, int64(3), byID[europeID].KnownCount)
	assert.Equal(t, int64(3), byID[europeID].TotalCount)
	assert.Equal(t, int64(1), byID[strikerID].TrueCount)
}

func TestUpsertEntityIdempotentByNormalizedName(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.UpsertEntity(ctx, "Mohamed Salah", "")
	require.NoError(t, err)
	b, err := s.UpsertEntity(ctx, "mohamed  salah", "http://img")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "http://img", b.ImageURL)

	// An existing image is not overwritten.
	c, err := s.UpsertEntity(ctx, "Mohamed Salah", "http://other")
	require.NoError(t, err)
	assert.Equal(t, "http://img", c.ImageURL)
}

func TestUpsertFactConfirmedIsNotDowngraded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	attr, err := s.UpsertAttribute(ctx, model.Attribute{Key: "region", Value: "europe", Label: "أوروبا"})
	require.NoError(t, err)
	e, err := s.UpsertEntity(ctx, "Mohamed Salah", "")
	require.NoError(t, err)

	require.NoError(t, s.UpsertFact(ctx, e.ID, attr.ID, model.AnswerYes, "confirmed", 1))
	require.NoError(t, s.UpsertFact(ctx, e.ID, attr.ID, model.AnswerNo, "llm", 0.9))

	rows, err := s.MatrixRows(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.AnswerYes, rows[0].Facts[attr.ID])

	// A new confirmed value does replace the old one.
	require.NoError(t, s.UpsertFact(ctx, e.ID, attr.ID, model.AnswerNo, "confirmed", 1))
	rows, err = s.MatrixRows(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerNo, rows[0].Facts[attr.ID])
}

func TestMatchEntityFuzzy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.UpsertEntity(ctx, "محمد صلاح", "")
	require.NoError(t, err)

	got, err := s.MatchEntity(ctx, "محمّد صلاح", 0.9)
	require.NoError(t, err)
	assert.Equal(t, "محمد صلاح", got.Name)

	_, err = s.MatchEntity(ctx, "رونالدينيو", 0.9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchQuestionExactBeatsFuzzy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	attr, err := s.UpsertAttribute(ctx, model.Attribute{Key: "club", Value: "real", Label: "ريال مدريد"})
	require.NoError(t, err)
	q, err := s.UpsertQuestion(ctx, attr.ID, "هل لعب في ريال مدريد؟")
	require.NoError(t, err)

	got, err := s.MatchQuestion(ctx, "هل لعب في ريال مدريد", 0.92)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)
}

func TestBestQuestionPrefersTrackRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	attr, err := s.UpsertAttribute(ctx, model.Attribute{Key: "region", Value: "europe", Label: "أوروبا"})
	require.NoError(t, err)

	weak, err := s.UpsertQuestion(ctx, attr.ID, "هل يلعب في القارة الأوروبية؟")
	require.NoError(t, err)
	strong, err := s.UpsertQuestion(ctx, attr.ID, "هل يلعب في أوروبا؟")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.BumpQuestionSeen(ctx, strong.ID))
		require.NoError(t, s.BumpQuestionSuccess(ctx, strong.ID))
	}
	require.NoError(t, s.BumpQuestionSeen(ctx, weak.ID))

	best, err := s.BestQuestion(ctx, attr.ID)
	require.NoError(t, err)
	assert.Equal(t, strong.ID, best.ID)
}

func TestSessionLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.UpsertSession(ctx, &model.Session{Status: model.SessionInProgress})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	first, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	created := first.CreatedAt

	_, err = s.UpsertSession(ctx, &model.Session{ID: id, Status: model.SessionInProgress, QuestionCount: 3})
	require.NoError(t, err)
	second, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, created, second.CreatedAt)
	assert.Equal(t, 3, second.QuestionCount)

	require.NoError(t, s.SaveSnapshot(ctx, &model.Snapshot{SessionID: id, CandidateCount: 7}))
	snap, err := s.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.CandidateCount)

	require.NoError(t, s.CloseSession(ctx, id, model.SessionWon, "Mohamed Salah", "p1", 5))
	closed, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionWon, closed.Status)

	// Closing a session leaves the snapshot alone; cleanup is explicit.
	snap, err = s.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.CandidateCount)

	require.NoError(t, s.DeleteSnapshot(ctx, id))
	_, err = s.GetSnapshot(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordTransitionReinforces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	edge := &model.TransitionEdge{FromNorm: "q1", Answer: model.AnswerYes, NextType: model.MoveGuess, NextGuess: "Mohamed Salah"}
	require.NoError(t, s.RecordTransition(ctx, edge, false))
	require.NoError(t, s.RecordTransition(ctx, edge, true))
	require.NoError(t, s.RecordTransition(ctx, edge, true))

	edges, err := s.TransitionsFrom(ctx, "q1", model.AnswerYes)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(3), edges[0].SeenCount)
	assert.Equal(t, int64(2), edges[0].SuccessCount)
}

func TestRecentPathsMostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.SavePath(ctx, &model.PlayPath{EntityName: "First", CreatedAt: base.Add(-time.Minute)}))
	require.NoError(t, s.SavePath(ctx, &model.PlayPath{EntityName: "Second", CreatedAt: base}))

	paths, err := s.RecentPaths(ctx, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "Second", paths[0].EntityName)
}

func TestAttributeGaps(t *testing.T) {
	s, europeID, _ := seedStore(t)
	ctx := context.Background()

	_, err := s.UpsertEntity(ctx, "Unknown Rookie", "")
	require.NoError(t, err)

	gaps, err := s.AttributeGaps(ctx, europeID, 10)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "Unknown Rookie", gaps[0].EntityName)
}
