package model

import (
	"strings"
	"time"
)

// AnswerKind is the canonical form of a user's reply to a yes/no question.
type AnswerKind string

const (
	AnswerYes     AnswerKind = "yes"
	AnswerNo      AnswerKind = "no"
	AnswerMaybe   AnswerKind = "maybe"
	AnswerUnknown AnswerKind = "unknown"
)

// ParseAnswer maps free-form user input (including Arabic synonyms) onto an
// AnswerKind. The empty string means the input could not be interpreted.
func ParseAnswer(raw string) AnswerKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "نعم":
		return AnswerYes
	case "no", "n", "false", "لا":
		return AnswerNo
	case "maybe", "ربما", "جزئيا", "جزئياً":
		return AnswerMaybe
	case "unknown", "idk", "لا اعرف", "لا أعرف":
		return AnswerUnknown
	}
	return ""
}

// Bool reports the answer as a tri-state: true, false, or nil for
// maybe/unknown/unparsed.
func (a AnswerKind) Bool() *bool {
	switch a {
	case AnswerYes:
		t := true
		return &t
	case AnswerNo:
		f := false
		return &f
	}
	return nil
}

// Entity is a possible hidden target of the game.
type Entity struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalized_name"`
	PriorWeight    float64 `json:"prior_weight"`
	ImageURL       string  `json:"image_url,omitempty"`
}

// Attribute is a boolean property an entity may hold. Attributes in the same
// group with Exclusive set are mutually exclusive: a "yes" on one rules out
// the siblings.
type Attribute struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Label     string `json:"label"`
	Group     string `json:"group"`
	Exclusive bool   `json:"is_exclusive"`
}

// Question is one phrasing of an attribute. Several questions may point at
// the same attribute; the store picks a best one per attribute.
type Question struct {
	ID             string `json:"id"`
	AttributeID    string `json:"attribute_id"`
	Text           string `json:"text"`
	NormalizedText string `json:"normalized_text"`
	SeenCount      int64  `json:"seen_count"`
	SuccessCount   int64  `json:"success_count"`
}

// HistoryItem is one asked question with the user's answer. AttributeID may
// be empty until the tracker resolves the question text against the store.
type HistoryItem struct {
	Question           string     `json:"question"`
	NormalizedQuestion string     `json:"normalized_question,omitempty"`
	QuestionID         string     `json:"question_id,omitempty"`
	AttributeID        string     `json:"feature_id,omitempty"`
	Answer             AnswerKind `json:"answer"`
	ResponseMillis     int64      `json:"response_time,omitempty"`
}

// SessionStatus values.
const (
	SessionInProgress = "in_progress"
	SessionWon        = "won"
	SessionLost       = "lost"
	SessionAbandoned  = "abandoned"
)

// Session is one play-through.
type Session struct {
	ID            string        `json:"id"`
	Status        string        `json:"status"`
	History       []HistoryItem `json:"history"`
	RejectedNames []string      `json:"rejected_guess_names"`
	GuessedName   string        `json:"guessed_name,omitempty"`
	GuessedID     string        `json:"guessed_candidate_id,omitempty"`
	QuestionCount int           `json:"question_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// MoveType discriminates the Move union.
type MoveType string

const (
	MoveQuestion MoveType = "question"
	MoveGuess    MoveType = "guess"
)

// Move is the engine's answer for one turn: either the next question or a
// committed guess. Exactly one arm is populated, selected by Type.
type Move struct {
	Type        MoveType `json:"type"`
	Content     string   `json:"content"`
	QuestionID  string   `json:"question_id,omitempty"`
	AttributeID string   `json:"feature_id,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// NewQuestionMove builds a question Move.
func NewQuestionMove(text, questionID, attributeID, source string) *Move {
	return &Move{
		Type:        MoveQuestion,
		Content:     text,
		QuestionID:  questionID,
		AttributeID: attributeID,
		Source:      source,
	}
}

// NewGuessMove builds a guess Move with confidence clamped to [0,1].
func NewGuessMove(name string, confidence float64, source string) *Move {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &Move{
		Type:       MoveGuess,
		Content:    name,
		Confidence: confidence,
		Source:     source,
	}
}

// TransitionEdge is one reinforced record of what historically followed a
// given (question, answer) pair. Edges grow monotonically and are never
// deleted, only reinforced.
type TransitionEdge struct {
	FromNorm     string     `json:"from_norm"`
	Answer       AnswerKind `json:"answer"`
	NextType     MoveType   `json:"next_type"`
	NextQuestion string     `json:"next_question_id,omitempty"`
	NextGuess    string     `json:"next_guess,omitempty"`
	SeenCount    int64      `json:"seen_count"`
	SuccessCount int64      `json:"success_count"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PathStep is one (normalized question, answer) pair of a finished game.
type PathStep struct {
	QuestionNorm string     `json:"q"`
	Answer       AnswerKind `json:"a"`
}

// PlayPath is a completed, won play-through kept for transition mining and
// early-guess inference.
type PlayPath struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entity_id,omitempty"`
	EntityName string     `json:"entity_name"`
	Steps      []PathStep `json:"steps"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Learning queue reason tags.
const (
	ReasonWrongGuess           = "wrong_guess"
	ReasonHighConfidenceReject = "high_confidence_reject"
)

// LearningQueueItem is a rejected or flagged guess parked for offline
// knowledge-base repair.
type LearningQueueItem struct {
	ID         string        `json:"id"`
	Reason     string        `json:"reason"`
	GuessName  string        `json:"guess_name"`
	Confidence float64       `json:"confidence"`
	History    []HistoryItem `json:"history"`
	CreatedAt  time.Time     `json:"created_at"`
}

// VerificationItem is the verdict of the evidence-grounded check on one
// history item after a confirmed guess.
type VerificationItem struct {
	Index           int     `json:"index"`
	Question        string  `json:"question"`
	UserAnswer      string  `json:"userAnswer"`
	SuggestedAnswer string  `json:"suggestedAnswer"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
}

// Contradicts reports whether this item is a high-confidence contradiction of
// the user's answer: the suggestion differs, is not "unknown", and the
// verifier is confident enough to act on it. A suggestion that cannot be
// parsed (free-form prose) is treated like "unknown" and never contradicts.
func (v VerificationItem) Contradicts(threshold float64) bool {
	if v.Confidence < threshold || v.SuggestedAnswer == "" {
		return false
	}
	suggested := ParseAnswer(v.SuggestedAnswer)
	if suggested == AnswerUnknown || suggested == "" {
		return false
	}
	return suggested != ParseAnswer(v.UserAnswer)
}

// Snapshot is the resumable per-session state persisted after every turn.
// Single writer per session, last write wins.
type Snapshot struct {
	SessionID      string     `json:"session_id"`
	YesAttributes  []string   `json:"yes_attributes"`
	NoAttributes   []string   `json:"no_attributes"`
	AskedAttrIDs   []string   `json:"asked_attribute_ids"`
	AskedNorms     []string   `json:"asked_question_norms"`
	RejectedNames  []string   `json:"rejected_names"`
	CandidateCount int64      `json:"candidate_count"`
	TopCandidate   string     `json:"top_candidate"`
	TopProbability float64    `json:"top_probability"`
	LastMove       *Move      `json:"last_move,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
