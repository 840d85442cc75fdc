package core

import (
	"context"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/core/text"
)

// ConstraintState is the engine's working view of one turn: the resolved
// history turned into yes/no attribute sets, the asked sets that guard
// against re-asking, and the rejected-guess names.
type ConstraintState struct {
	History       []model.HistoryItem
	YesIDs        []string
	NoIDs         []string
	AskedIDs      []string
	AskedNorms    []string
	RejectedNorms []string
	RejectedRaw   []string

	// groups holding a confirmed "yes" on an exclusive attribute.
	confirmedGroups map[string]struct{}

	LastNorm   string
	LastAnswer model.AnswerKind
}

// AnsweredCount is the number of history items carrying an interpretable
// answer.
func (st *ConstraintState) AnsweredCount() int {
	n := 0
	for _, h := range st.History {
		if model.ParseAnswer(string(h.Answer)) != "" {
			n++
		}
	}
	return n
}

// Pairs returns the (normalized question, answer) set of the history, used
// by the path-similarity fallback.
func (st *ConstraintState) Pairs() map[model.PathStep]struct{} {
	pairs := make(map[model.PathStep]struct{}, len(st.History))
	for _, h := range st.History {
		a := model.ParseAnswer(string(h.Answer))
		if h.NormalizedQuestion == "" || a == "" {
			continue
		}
		pairs[model.PathStep{QuestionNorm: h.NormalizedQuestion, Answer: a}] = struct{}{}
	}
	return pairs
}

// InConfirmedGroup reports whether the attribute sits in an exclusive group
// that already has a "yes".
func (st *ConstraintState) InConfirmedGroup(attr model.Attribute) bool {
	if !attr.Exclusive {
		return false
	}
	_, ok := st.confirmedGroups[attr.Group]
	return ok
}

// IsRejected reports whether a guess name is on the rejected list.
func (st *ConstraintState) IsRejected(name string) bool {
	norm := text.Normalize(name)
	for _, r := range st.RejectedNorms {
		if r == norm {
			return true
		}
	}
	return false
}

// buildConstraints resolves each history item's attribute (exact then fuzzy
// question lookup) and folds the answers into constraint sets. The latest
// answer per attribute wins. Maybe/unknown answers constrain nothing but
// still count as asked. A "yes" on an exclusive attribute implies "no" on
// its group siblings.
func (e *Engine) buildConstraints(ctx context.Context, history []model.HistoryItem, rejected []string) *ConstraintState {
	st := &ConstraintState{confirmedGroups: make(map[string]struct{})}

	for _, raw := range rejected {
		if norm := text.Normalize(raw); norm != "" {
			st.RejectedNorms = append(st.RejectedNorms, norm)
			st.RejectedRaw = append(st.RejectedRaw, raw)
		}
	}

	latest := make(map[string]model.AnswerKind)
	var order []string
	askedNorms := make(map[string]struct{})

	for _, item := range history {
		item.NormalizedQuestion = text.Normalize(item.Question)
		item.Answer = model.ParseAnswer(string(item.Answer))

		if item.AttributeID == "" && item.NormalizedQuestion != "" {
			if q, err := e.store.MatchQuestion(ctx, item.Question, questionMatchThreshold); err == nil {
				item.AttributeID = q.AttributeID
				if item.QuestionID == "" {
					item.QuestionID = q.ID
				}
			}
		}

		if item.NormalizedQuestion != "" {
			if _, seen := askedNorms[item.NormalizedQuestion]; !seen {
				askedNorms[item.NormalizedQuestion] = struct{}{}
				st.AskedNorms = append(st.AskedNorms, item.NormalizedQuestion)
			}
		}
		if item.AttributeID != "" {
			if _, seen := latest[item.AttributeID]; !seen {
				order = append(order, item.AttributeID)
			}
			latest[item.AttributeID] = item.Answer
		}

		st.History = append(st.History, item)
		st.LastNorm = item.NormalizedQuestion
		st.LastAnswer = item.Answer
		if st.LastAnswer == "" {
			st.LastAnswer = model.AnswerUnknown
		}
	}

	st.AskedIDs = append(st.AskedIDs, order...)
	for _, attrID := range order {
		switch latest[attrID] {
		case model.AnswerYes:
			st.YesIDs = append(st.YesIDs, attrID)
			if attr, ok := e.catalog.Get(attrID); ok && attr.Exclusive {
				st.confirmedGroups[attr.Group] = struct{}{}
			}
		case model.AnswerNo:
			st.NoIDs = append(st.NoIDs, attrID)
		}
	}

	// A confirmed exclusive attribute rules out its siblings.
	if len(st.confirmedGroups) > 0 {
		inYes := make(map[string]struct{}, len(st.YesIDs))
		for _, id := range st.YesIDs {
			inYes[id] = struct{}{}
		}
		inNo := make(map[string]struct{}, len(st.NoIDs))
		for _, id := range st.NoIDs {
			inNo[id] = struct{}{}
		}
		// Catalog order is stable, so the implied additions are too.
		for _, attr := range e.catalog.Attributes() {
			if !attr.Exclusive {
				continue
			}
			if _, confirmed := st.confirmedGroups[attr.Group]; !confirmed {
				continue
			}
			if _, yes := inYes[attr.ID]; yes {
				continue
			}
			if _, no := inNo[attr.ID]; !no {
				st.NoIDs = append(st.NoIDs, attr.ID)
				inNo[attr.ID] = struct{}{}
			}
		}
	}

	return st
}
