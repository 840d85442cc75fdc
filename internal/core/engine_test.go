package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/store"
)

// seedWorld loads four players split by two features, with one question
// phrasing per feature.
//
//	                europe  striker
//	Mohamed Salah   yes     yes
//	Kevin De Bruyne yes     no
//	Lionel Messi    no      no
//	Neymar          no      no
func seedWorld(t *testing.T, st *store.MemoryStore) (europeID, strikerID string) {
	t.Helper()
	ctx := context.Background()

	europe, err := st.UpsertAttribute(ctx, model.Attribute{Key: "region", Value: "europe", Label: "يلعب في أوروبا"})
	require.NoError(t, err)
	striker, err := st.UpsertAttribute(ctx, model.Attribute{Key: "position", Value: "striker", Label: "يلعب كمهاجم"})
	require.NoError(t, err)

	_, err = st.UpsertQuestion(ctx, europe.ID, "هل يلعب في أوروبا؟")
	require.NoError(t, err)
	_, err = st.UpsertQuestion(ctx, striker.ID, "هل يلعب كمهاجم؟")
	require.NoError(t, err)

	facts := []struct {
		name    string
		europe  model.AnswerKind
		striker model.AnswerKind
	}{
		{"Mohamed Salah", model.AnswerYes, model.AnswerYes},
		{"Kevin De Bruyne", model.AnswerYes, model.AnswerNo},
		{"Lionel Messi", model.AnswerNo, model.AnswerNo},
		{"Neymar", model.AnswerNo, model.AnswerNo},
	}
	for _, f := range facts {
		entity, err := st.UpsertEntity(ctx, f.name, "")
		require.NoError(t, err)
		require.NoError(t, st.UpsertFact(ctx, entity.ID, europe.ID, f.europe, "confirmed", 1))
		require.NoError(t, st.UpsertFact(ctx, entity.ID, striker.ID, f.striker, "confirmed", 1))
	}
	return europe.ID, striker.ID
}

func TestNextMoveAsksBestSplittingQuestion(t *testing.T) {
	eng, st := newTestEngine(nil)
	europeID, _ := seedWorld(t, st)

	resp, err := eng.NextMove(context.Background(), TurnRequest{})
	require.NoError(t, err)
	require.Equal(t, model.MoveQuestion, resp.Move.Type)

	// The 2/2 split beats the 1/3 split.
	assert.Equal(t, europeID, resp.Move.AttributeID)
	assert.Equal(t, "هل يلعب في أوروبا؟", resp.Move.Content)
	assert.NotEmpty(t, resp.Move.QuestionID)
	assert.NotEmpty(t, resp.SessionID)
}

func TestNextMoveNarrowsToGuess(t *testing.T) {
	eng, st := newTestEngine(nil)
	seedWorld(t, st)

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
		{Question: "هل يلعب كمهاجم؟", Answer: model.AnswerYes},
	}
	resp, err := eng.NextMove(context.Background(), TurnRequest{History: history})
	require.NoError(t, err)

	require.Equal(t, model.MoveGuess, resp.Move.Type)
	assert.Equal(t, "Mohamed Salah", resp.Move.Content)
	assert.InDelta(t, 1.0, resp.Move.Confidence, 1e-9)
	assert.Equal(t, "selector", resp.Move.Source)
}

func TestNextMoveNeverRepeatsAQuestion(t *testing.T) {
	eng, st := newTestEngine(nil)
	seedWorld(t, st)

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
	}
	resp, err := eng.NextMove(context.Background(), TurnRequest{History: history})
	require.NoError(t, err)

	if resp.Move.Type == model.MoveQuestion {
		assert.NotEqual(t, "هل يلعب في أوروبا؟", resp.Move.Content)
	}
}

func TestNextMoveSkipsRejectedTopCandidate(t *testing.T) {
	eng, st := newTestEngine(nil)
	seedWorld(t, st)

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
		{Question: "هل يلعب كمهاجم؟", Answer: model.AnswerYes},
	}
	resp, err := eng.NextMove(context.Background(), TurnRequest{
		History:         history,
		RejectedGuesses: []string{"mohamed salah"},
	})
	require.NoError(t, err)

	if resp.Move.Type == model.MoveGuess {
		assert.NotEqual(t, "Mohamed Salah", resp.Move.Content)
	}
}

func TestNextMoveFallsBackOnEmptyStore(t *testing.T) {
	eng, _ := newTestEngine(nil)

	resp, err := eng.NextMove(context.Background(), TurnRequest{})
	require.NoError(t, err)

	require.Equal(t, model.MoveQuestion, resp.Move.Type)
	assert.Equal(t, "static_bank", resp.Move.Source)
	assert.NotEmpty(t, resp.Move.Content)
}

func TestNextMoveKeepsValidSessionID(t *testing.T) {
	eng, _ := newTestEngine(nil)
	const id = "b3e9c7a4-1f2d-4e5b-8a6c-9d0e1f2a3b4c"

	resp, err := eng.NextMove(context.Background(), TurnRequest{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, id, resp.SessionID)
}

func TestNextMoveReplacesInvalidSessionID(t *testing.T) {
	eng, _ := newTestEngine(nil)

	resp, err := eng.NextMove(context.Background(), TurnRequest{SessionID: "not-a-uuid"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEqual(t, "not-a-uuid", resp.SessionID)
}

func TestNextMoveMergesSessionRejects(t *testing.T) {
	eng, st := newTestEngine(nil)
	seedWorld(t, st)
	ctx := context.Background()

	sessionID, err := st.UpsertSession(ctx, &model.Session{
		Status:        model.SessionInProgress,
		RejectedNames: []string{"Mohamed Salah"},
	})
	require.NoError(t, err)

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
		{Question: "هل يلعب كمهاجم؟", Answer: model.AnswerYes},
	}
	// The request itself carries no rejections; the session does.
	resp, err := eng.NextMove(ctx, TurnRequest{SessionID: sessionID, History: history})
	require.NoError(t, err)

	if resp.Move.Type == model.MoveGuess {
		assert.NotEqual(t, "Mohamed Salah", resp.Move.Content)
	}
}

func TestNextMovePersistsSnapshot(t *testing.T) {
	eng, st := newTestEngine(nil)
	seedWorld(t, st)
	ctx := context.Background()

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
	}
	resp, err := eng.NextMove(ctx, TurnRequest{History: history})
	require.NoError(t, err)

	snap, err := st.GetSnapshot(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.CandidateCount)
	assert.Len(t, snap.YesAttributes, 1)
	require.NotNil(t, snap.LastMove)
	assert.Equal(t, resp.Move.Content, snap.LastMove.Content)
}

func TestNextMoveRegistersTransition(t *testing.T) {
	eng, st := newTestEngine(nil)
	seedWorld(t, st)
	ctx := context.Background()

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
	}
	resp, err := eng.NextMove(ctx, TurnRequest{History: history})
	require.NoError(t, err)
	require.Equal(t, model.MoveQuestion, resp.Move.Type)

	edges, err := st.TransitionsFrom(ctx, "هل يلعب في اوروبا", model.AnswerYes)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, resp.Move.QuestionID, edges[0].NextQuestion)
	assert.Equal(t, int64(1), edges[0].SeenCount)
	assert.Equal(t, int64(0), edges[0].SuccessCount)
}

func TestTransitionServedMoveCountsSeenOnce(t *testing.T) {
	eng, st := newTestEngine(nil)
	ctx := context.Background()

	// A known follow-up question but no entities, so the selector has
	// nothing and the turn is served from the decision graph.
	attr, err := st.UpsertAttribute(ctx, model.Attribute{Key: "club", Value: "real", Label: "لعب في ريال مدريد"})
	require.NoError(t, err)
	q, err := st.UpsertQuestion(ctx, attr.ID, "هل لعب في ريال مدريد؟")
	require.NoError(t, err)

	edge := &model.TransitionEdge{FromNorm: "هل يلعب في اوروبا", Answer: model.AnswerYes, NextType: model.MoveQuestion, NextQuestion: q.ID}
	for i := 0; i < 4; i++ {
		require.NoError(t, st.RecordTransition(ctx, edge, true))
	}

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
	}
	resp, err := eng.NextMove(ctx, TurnRequest{History: history})
	require.NoError(t, err)
	require.Equal(t, "transition", resp.Move.Source)
	assert.Equal(t, q.ID, resp.Move.QuestionID)

	edges, err := st.TransitionsFrom(ctx, "هل يلعب في اوروبا", model.AnswerYes)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(5), edges[0].SeenCount)
	assert.Equal(t, int64(4), edges[0].SuccessCount)
}

func TestRankAttributesPrefersEvenSplit(t *testing.T) {
	eng, _ := newTestEngine(nil)
	st := &ConstraintState{confirmedGroups: map[string]struct{}{}}

	stats := []store.AttributeStat{
		{AttributeID: "a", TrueCount: 1, KnownCount: 4, TotalCount: 4},   // |0.5-0.25| = 0.25
		{AttributeID: "b", TrueCount: 2, KnownCount: 4, TotalCount: 4},   // 0
		{AttributeID: "c", TrueCount: 2, KnownCount: 2, TotalCount: 4},   // 0 + 0.5*0.2 = 0.1
		{AttributeID: "d", TrueCount: 0, KnownCount: 4, TotalCount: 4},   // no split, skipped
		{AttributeID: "e", TrueCount: 4, KnownCount: 4, TotalCount: 4},   // no split, skipped
	}
	ranked := eng.rankAttributes(stats, st)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].stat.AttributeID)
	assert.Equal(t, "c", ranked[1].stat.AttributeID)
	assert.Equal(t, "a", ranked[2].stat.AttributeID)
}

func TestRankAttributesSkipsAsked(t *testing.T) {
	eng, _ := newTestEngine(nil)
	st := &ConstraintState{
		AskedIDs:        []string{"b"},
		confirmedGroups: map[string]struct{}{},
	}
	stats := []store.AttributeStat{
		{AttributeID: "a", TrueCount: 1, KnownCount: 4, TotalCount: 4},
		{AttributeID: "b", TrueCount: 2, KnownCount: 4, TotalCount: 4},
	}
	ranked := eng.rankAttributes(stats, st)
	require.Len(t, ranked, 1)
	assert.Equal(t, "a", ranked[0].stat.AttributeID)
}

func TestBuildConstraintsLatestAnswerWins(t *testing.T) {
	eng, st := newTestEngine(nil)
	europeID, _ := seedWorld(t, st)

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerYes},
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerNo},
	}
	cs := eng.buildConstraints(context.Background(), history, nil)

	assert.Empty(t, cs.YesIDs)
	assert.Equal(t, []string{europeID}, cs.NoIDs)
	assert.Equal(t, []string{europeID}, cs.AskedIDs)
	assert.Len(t, cs.AskedNorms, 1)
}

func TestBuildConstraintsMaybeCountsAsAskedOnly(t *testing.T) {
	eng, st := newTestEngine(nil)
	europeID, _ := seedWorld(t, st)

	history := []model.HistoryItem{
		{Question: "هل يلعب في أوروبا؟", Answer: model.AnswerMaybe},
	}
	cs := eng.buildConstraints(context.Background(), history, nil)

	assert.Empty(t, cs.YesIDs)
	assert.Empty(t, cs.NoIDs)
	assert.Equal(t, []string{europeID}, cs.AskedIDs)
}

func TestBuildConstraintsExclusiveGroupImpliesSiblingNo(t *testing.T) {
	eng, st := newTestEngine(nil)
	ctx := context.Background()

	gk, err := st.UpsertAttribute(ctx, model.Attribute{Key: "position", Value: "goalkeeper", Label: "حارس مرمى", Group: "position", Exclusive: true})
	require.NoError(t, err)
	def, err := st.UpsertAttribute(ctx, model.Attribute{Key: "position", Value: "defender", Label: "مدافع", Group: "position", Exclusive: true})
	require.NoError(t, err)
	_, err = st.UpsertQuestion(ctx, gk.ID, "هل هو حارس مرمى؟")
	require.NoError(t, err)
	require.NoError(t, eng.catalog.Refresh(ctx))

	history := []model.HistoryItem{
		{Question: "هل هو حارس مرمى؟", Answer: model.AnswerYes},
	}
	cs := eng.buildConstraints(ctx, history, nil)

	assert.Equal(t, []string{gk.ID}, cs.YesIDs)
	assert.Contains(t, cs.NoIDs, def.ID)
}

func TestBuildConstraintsResolvesCloseParaphrase(t *testing.T) {
	eng, st := newTestEngine(nil)
	europeID, _ := seedWorld(t, st)

	// Diacritics and hamza variants must not defeat resolution.
	history := []model.HistoryItem{
		{Question: "هل يلعب في اوروبا", Answer: model.AnswerYes},
	}
	cs := eng.buildConstraints(context.Background(), history, nil)
	assert.Equal(t, []string{europeID}, cs.YesIDs)
}
