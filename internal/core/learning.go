package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/core/text"
	"github.com/playmind/guessball/internal/llm"
)

// Verification pass acts only on contradictions at or above this confidence.
const verificationThreshold = 0.80

// ConfirmRequest is the outcome of a guess reported by the player.
type ConfirmRequest struct {
	SessionID string
	GuessName string
	Correct   bool
	History   []model.HistoryItem
}

// ConfirmResult is the learning pipeline's verdict.
type ConfirmResult struct {
	Status         string                   `json:"status"`
	SessionID      string                   `json:"sessionId"`
	EntityID       string                   `json:"playerId,omitempty"`
	ImageURL       string                   `json:"imageUrl,omitempty"`
	ReviewRequired bool                     `json:"reviewRequired,omitempty"`
	Suspect        []model.VerificationItem `json:"suspectAnswers,omitempty"`
}

// Confirm processes a reported guess outcome. A wrong guess is parked for
// offline repair and the session keeps going; a confirmed guess runs the
// evidence-grounded verification pass and, when clean, commits everything
// the session taught us.
func (e *Engine) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if req.GuessName == "" {
		return nil, fmt.Errorf("empty guess name")
	}

	if !req.Correct {
		e.recordRejection(ctx, req)
		return &ConfirmResult{Status: "rejected", SessionID: req.SessionID}, nil
	}

	suspect := e.verifyHistory(ctx, req.GuessName, req.History)
	if len(suspect) > 0 {
		return &ConfirmResult{
			Status:         "review",
			SessionID:      req.SessionID,
			ReviewRequired: true,
			Suspect:        suspect,
		}, nil
	}

	entityID, imageURL := e.commitWin(ctx, req)
	return &ConfirmResult{
		Status:    "confirmed",
		SessionID: req.SessionID,
		EntityID:  entityID,
		ImageURL:  imageURL,
	}, nil
}

// ConfirmFinal commits a win unconditionally, bypassing verification. Used
// when the player overrides a review verdict.
func (e *Engine) ConfirmFinal(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if req.GuessName == "" {
		return nil, fmt.Errorf("empty guess name")
	}
	entityID, imageURL := e.commitWin(ctx, req)
	return &ConfirmResult{
		Status:    "confirmed",
		SessionID: req.SessionID,
		EntityID:  entityID,
		ImageURL:  imageURL,
	}, nil
}

// recordRejection parks a wrong guess on the repair queue and pins the name
// to the session so it is never guessed again in this game.
func (e *Engine) recordRejection(ctx context.Context, req ConfirmRequest) {
	confidence := e.lastGuessConfidence(ctx, req.SessionID, req.GuessName)
	reason := model.ReasonWrongGuess
	if confidence >= highConfidenceReject {
		reason = model.ReasonHighConfidenceReject
	}
	item := &model.LearningQueueItem{
		Reason:     reason,
		GuessName:  req.GuessName,
		Confidence: confidence,
		History:    req.History,
	}
	if err := e.store.EnqueueLearning(ctx, item); err != nil {
		e.log.Warn("learning enqueue failed", zap.String("guess", req.GuessName), zap.Error(err))
	}

	sess, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return
	}
	norm := text.Normalize(req.GuessName)
	for _, name := range sess.RejectedNames {
		if text.Normalize(name) == norm {
			return
		}
	}
	sess.RejectedNames = append(sess.RejectedNames, req.GuessName)
	sess.Status = model.SessionInProgress
	if _, err := e.store.UpsertSession(ctx, sess); err != nil {
		e.log.Warn("rejection persist failed", zap.String("session", req.SessionID), zap.Error(err))
	}
}

// lastGuessConfidence reads the confidence of the rejected guess from the
// session snapshot, or zero when no snapshot matches.
func (e *Engine) lastGuessConfidence(ctx context.Context, sessionID, guessName string) float64 {
	snap, err := e.store.GetSnapshot(ctx, sessionID)
	if err != nil || snap.LastMove == nil {
		return 0
	}
	move := snap.LastMove
	if move.Type != model.MoveGuess {
		return 0
	}
	if text.Normalize(move.Content) != text.Normalize(guessName) {
		return 0
	}
	return move.Confidence
}

// verifyHistory cross-checks the player's answers against web evidence for
// the confirmed entity. An unavailable or failing verifier means a clean
// pass: confirmation is the player's call, verification only catches
// obvious answer mistakes before they poison the knowledge base.
func (e *Engine) verifyHistory(ctx context.Context, name string, history []model.HistoryItem) []model.VerificationItem {
	if !llm.Available(e.llm) || len(history) == 0 {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	evidence, err := e.search.LookupEntityEvidence(ectx, name)
	cancel()
	if err != nil {
		e.log.Warn("evidence lookup failed", zap.String("entity", name), zap.Error(err))
		evidence = ""
	}

	vctx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	raw, err := e.llm.Generate(vctx, verificationPrompt(name, evidence, history))
	cancel()
	if err != nil {
		e.log.Warn("verification pass failed", zap.String("entity", name), zap.Error(err))
		return nil
	}
	out, err := llm.DecodeVerification(raw, len(history))
	if err != nil {
		e.log.Warn("verification output invalid", zap.Error(err))
		return nil
	}

	var suspect []model.VerificationItem
	for _, it := range out.Items {
		v := model.VerificationItem{
			Index:           it.Index,
			Question:        it.Question,
			UserAnswer:      it.UserAnswer,
			SuggestedAnswer: it.SuggestedAnswer,
			Confidence:      it.Confidence,
			Reason:          it.Reason,
		}
		if v.Contradicts(verificationThreshold) {
			suspect = append(suspect, v)
		}
	}
	return suspect
}

func verificationPrompt(name, evidence string, history []model.HistoryItem) string {
	type item struct {
		Index    int    `json:"index"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	items := make([]item, 0, len(history))
	for i, h := range history {
		items = append(items, item{Index: i + 1, Question: h.Question, Answer: string(h.Answer)})
	}
	body, _ := json.Marshal(items)

	var b strings.Builder
	fmt.Fprintf(&b, "اللاعب المؤكد: %s\n\n", name)
	if evidence != "" {
		fmt.Fprintf(&b, "معلومات من البحث:\n%s\n\n", evidence)
	}
	b.WriteString("راجع إجابات المستخدم التالية وحدد أي إجابة تبدو خاطئة بالنسبة لهذا اللاعب.\n")
	fmt.Fprintf(&b, "الإجابات:\n%s\n\n", body)
	b.WriteString("أرجع JSON فقط بالصيغة:\n")
	b.WriteString(`{"items":[{"index":1,"question":"...","userAnswer":"...","suggestedAnswer":"yes|no|unknown","confidence":0.0,"reason":"..."}]}`)
	b.WriteString("\nأدرج فقط الإجابات التي تشك فيها بدرجة عالية.")
	return b.String()
}

// commitWin folds a confirmed game into the knowledge base: the entity, its
// yes/no facts, question success counters, the completed play path, and the
// reinforced decision graph. Individual write failures are logged and
// skipped; the commit is best-effort per item.
func (e *Engine) commitWin(ctx context.Context, req ConfirmRequest) (entityID, imageURL string) {
	imageURL = e.guessImage(ctx, req.GuessName)
	entity, err := e.store.UpsertEntity(ctx, req.GuessName, imageURL)
	if err != nil {
		e.log.Error("entity upsert failed", zap.String("entity", req.GuessName), zap.Error(err))
		return "", imageURL
	}
	if entity.ImageURL != "" {
		imageURL = entity.ImageURL
	}

	steps := e.commitFacts(ctx, entity, req.History)
	e.reinforcePath(ctx, entity, steps)

	if err := e.store.CloseSession(ctx, req.SessionID, model.SessionWon, req.GuessName, entity.ID, len(req.History)); err != nil {
		e.log.Warn("session close failed", zap.String("session", req.SessionID), zap.Error(err))
	}
	if err := e.store.DeleteSnapshot(ctx, req.SessionID); err != nil {
		e.log.Warn("snapshot cleanup failed", zap.String("session", req.SessionID), zap.Error(err))
	}
	return entity.ID, imageURL
}

// commitFacts records the answered facts and bumps success counters, and
// returns the normalized step list for path reinforcement. Items whose
// attribute cannot be resolved contribute a step but no fact.
func (e *Engine) commitFacts(ctx context.Context, entity *model.Entity, history []model.HistoryItem) []model.PathStep {
	steps := make([]model.PathStep, 0, len(history))
	for _, h := range history {
		answer := model.ParseAnswer(string(h.Answer))
		norm := text.Normalize(h.Question)
		if norm == "" {
			continue
		}
		steps = append(steps, model.PathStep{QuestionNorm: norm, Answer: answer})

		attrID := h.AttributeID
		questionID := h.QuestionID
		if attrID == "" || questionID == "" {
			if q, err := e.store.MatchQuestion(ctx, h.Question, questionMatchThreshold); err == nil {
				if attrID == "" {
					attrID = q.AttributeID
				}
				if questionID == "" {
					questionID = q.ID
				}
			}
		}

		if attrID != "" && (answer == model.AnswerYes || answer == model.AnswerNo) {
			if err := e.store.UpsertFact(ctx, entity.ID, attrID, answer, "confirmed", 1); err != nil {
				e.log.Warn("fact commit failed", zap.String("feature", attrID), zap.Error(err))
			}
		}
		if questionID != "" {
			if err := e.store.BumpQuestionSuccess(ctx, questionID); err != nil {
				e.log.Warn("success counter bump failed", zap.String("question", questionID), zap.Error(err))
			}
		}
	}
	return steps
}

// reinforcePath saves the completed play path and marks every transition
// along it as successful.
func (e *Engine) reinforcePath(ctx context.Context, entity *model.Entity, steps []model.PathStep) {
	if len(steps) == 0 {
		return
	}
	path := &model.PlayPath{
		EntityID:   entity.ID,
		EntityName: entity.Name,
		Steps:      steps,
	}
	if err := e.store.SavePath(ctx, path); err != nil {
		e.log.Warn("path save failed", zap.Error(err))
	}

	for i := 0; i+1 < len(steps); i++ {
		edge := &model.TransitionEdge{
			FromNorm: steps[i].QuestionNorm,
			Answer:   steps[i].Answer,
			NextType: model.MoveQuestion,
		}
		if q, err := e.store.MatchQuestion(ctx, steps[i+1].QuestionNorm, 1); err == nil {
			edge.NextQuestion = q.ID
		} else {
			continue
		}
		if err := e.store.RecordTransition(ctx, edge, true); err != nil {
			e.log.Warn("transition reinforce failed", zap.Error(err))
		}
	}
	last := steps[len(steps)-1]
	edge := &model.TransitionEdge{
		FromNorm:  last.QuestionNorm,
		Answer:    last.Answer,
		NextType:  model.MoveGuess,
		NextGuess: entity.Name,
	}
	if err := e.store.RecordTransition(ctx, edge, true); err != nil {
		e.log.Warn("transition reinforce failed", zap.Error(err))
	}
}
