package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/core/text"
	"github.com/playmind/guessball/internal/llm"
)

// Fallback chain thresholds.
const (
	transitionRateWeight   = 0.85
	transitionVolumeWeight = 0.15
	pathMinAnswered        = 5
	pathMatchFloor         = 0.55
	pathBestRatioFloor     = 0.8
	pathMinSamples         = 2
	pathGuessConfidence    = 0.78
	highConfidenceReject   = 0.85
)

// fallback runs the five-stage degrade path in strict order and returns the
// first stage that yields a non-duplicate move. Stage five cannot fail, so a
// move is always produced.
func (e *Engine) fallback(ctx context.Context, st *ConstraintState) *model.Move {
	if move := e.cachedTransition(ctx, st); move != nil {
		return move
	}
	if move := e.minePaths(ctx, st); move != nil {
		return move
	}
	if move := e.earlyGuess(ctx, st); move != nil {
		return move
	}
	if move := e.generativeMove(ctx, st); move != nil {
		return move
	}
	return e.staticBankMove(st)
}

// --- stage 1: cached transition lookup ---

func transitionScore(edge *model.TransitionEdge) float64 {
	rate := float64(edge.SuccessCount+1) / float64(edge.SeenCount+2)
	volume := math.Min(1, math.Log(float64(edge.SeenCount)+1)/4)
	return rate*transitionRateWeight + volume*transitionVolumeWeight
}

func (e *Engine) cachedTransition(ctx context.Context, st *ConstraintState) *model.Move {
	if st.LastNorm == "" {
		return nil
	}
	edges, err := e.store.TransitionsFrom(ctx, st.LastNorm, st.LastAnswer)
	if err != nil {
		e.log.Warn("transition lookup failed", zap.Error(err))
		return nil
	}
	sort.SliceStable(edges, func(i, j int) bool {
		si, sj := transitionScore(&edges[i]), transitionScore(&edges[j])
		if si != sj {
			return si > sj
		}
		if edges[i].SeenCount != edges[j].SeenCount {
			return edges[i].SeenCount > edges[j].SeenCount
		}
		return edges[i].UpdatedAt.After(edges[j].UpdatedAt)
	})

	for i := range edges {
		edge := &edges[i]
		switch edge.NextType {
		case model.MoveGuess:
			if edge.NextGuess == "" || st.IsRejected(edge.NextGuess) {
				continue
			}
			_ = e.store.RecordTransition(ctx, edge, false)
			rate := float64(edge.SuccessCount+1) / float64(edge.SeenCount+2)
			move := model.NewGuessMove(edge.NextGuess, rate, "transition")
			return move
		case model.MoveQuestion:
			q, err := e.store.QuestionByID(ctx, edge.NextQuestion)
			if err != nil {
				continue
			}
			if text.IsNearDuplicate(q.Text, st.AskedNorms, text.NearDuplicateThreshold) {
				continue
			}
			_ = e.store.RecordTransition(ctx, edge, false)
			return model.NewQuestionMove(q.Text, q.ID, q.AttributeID, "transition")
		}
	}
	return nil
}

// --- stage 2: historical path mining ---

func (e *Engine) minePaths(ctx context.Context, st *ConstraintState) *model.Move {
	if st.LastNorm == "" {
		return nil
	}
	paths, err := e.store.RecentPaths(ctx, e.recentPathLimit)
	if err != nil {
		e.log.Warn("path scan failed", zap.Error(err))
		return nil
	}

	type observation struct {
		count   int
		lastIdx int // paths are recency-ordered; lower index is more recent
	}
	observed := make(map[string]*observation)
	for idx, p := range paths {
		for i := 0; i+1 < len(p.Steps); i++ {
			if p.Steps[i].QuestionNorm != st.LastNorm || p.Steps[i].Answer != st.LastAnswer {
				continue
			}
			next := p.Steps[i+1].QuestionNorm
			obs := observed[next]
			if obs == nil {
				obs = &observation{lastIdx: idx}
				observed[next] = obs
			}
			obs.count++
			if idx < obs.lastIdx {
				obs.lastIdx = idx
			}
		}
	}

	norms := make([]string, 0, len(observed))
	for n := range observed {
		norms = append(norms, n)
	}
	sort.Slice(norms, func(i, j int) bool {
		a, b := observed[norms[i]], observed[norms[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		if a.lastIdx != b.lastIdx {
			return a.lastIdx < b.lastIdx
		}
		return norms[i] < norms[j]
	})

	for _, norm := range norms {
		if text.IsNearDuplicate(norm, st.AskedNorms, text.NearDuplicateThreshold) {
			continue
		}
		q, err := e.store.MatchQuestion(ctx, norm, 1)
		if err != nil {
			continue
		}
		return model.NewQuestionMove(q.Text, q.ID, q.AttributeID, "path_mining")
	}
	return nil
}

// --- stage 3: early-guess inference from path similarity ---

func (e *Engine) earlyGuess(ctx context.Context, st *ConstraintState) *model.Move {
	if st.AnsweredCount() < pathMinAnswered {
		return nil
	}
	pairs := st.Pairs()
	if len(pairs) == 0 {
		return nil
	}
	paths, err := e.store.RecentPaths(ctx, e.recentPathLimit)
	if err != nil {
		return nil
	}

	type aggregate struct {
		name      string
		sumRatio  float64
		bestRatio float64
		samples   int
	}
	byEntity := make(map[string]*aggregate)
	for _, p := range paths {
		if p.EntityName == "" || st.IsRejected(p.EntityName) {
			continue
		}
		pathPairs := make(map[model.PathStep]struct{}, len(p.Steps))
		for _, step := range p.Steps {
			pathPairs[step] = struct{}{}
		}
		matched := 0
		for pair := range pairs {
			if _, ok := pathPairs[pair]; ok {
				matched++
			}
		}
		ratio := float64(matched) / float64(len(pairs))
		if ratio < pathMatchFloor {
			continue
		}
		key := text.Normalize(p.EntityName)
		agg := byEntity[key]
		if agg == nil {
			agg = &aggregate{name: p.EntityName}
			byEntity[key] = agg
		}
		agg.sumRatio += ratio
		agg.samples++
		if ratio > agg.bestRatio {
			agg.bestRatio = ratio
		}
	}

	type scored struct {
		agg   *aggregate
		score float64
	}
	var ranked []scored
	for _, agg := range byEntity {
		if agg.samples < pathMinSamples && agg.bestRatio < pathBestRatioFloor {
			continue
		}
		mean := agg.sumRatio / float64(agg.samples)
		score := 0.7*mean + 0.3*agg.bestRatio + 0.2*math.Min(1, float64(agg.samples)/5)
		ranked = append(ranked, scored{agg: agg, score: score})
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].agg.name < ranked[j].agg.name
	})

	top := ranked[0].score
	second := 0.0
	if len(ranked) > 1 {
		second = ranked[1].score
	}
	confidence := (top + (top - second)) / 1.6
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 0.99 {
		confidence = 0.99
	}
	if confidence < pathGuessConfidence {
		return nil
	}
	return model.NewGuessMove(ranked[0].agg.name, confidence, "path_similarity")
}

// --- stage 4: generative fallback ---

// bannedPatterns blocks weak or unanswerable generated questions: gender,
// name spelling, age ranges, and league questions the product forbids.
var bannedPatterns = []string{
	"ذكر", "انثي", "رجل", "امراه", "بنت", "ولد",
	"لاعب كره قدم", "يلعب كره قدم", "كره القدم",
	"مشهور", "موجود في قاعده البيانات", "تعرفه",
	"اسمه يبدا بحرف", "اسمه ينتهي بحرف", "اسمه يحتوي علي",
	"عمره اقل من", "عمره اكثر من", "عمره يساوي",
	"الدوري المحلي", "في اي دوري",
}

func isBannedQuestion(questionText string) bool {
	norm := text.Normalize(questionText)
	if norm == "" {
		return true
	}
	for _, p := range bannedPatterns {
		if strings.Contains(norm, text.Normalize(p)) {
			return true
		}
	}
	return false
}

func (e *Engine) generativePrompt(st *ConstraintState, avoid string) string {
	type promptItem struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	items := make([]promptItem, 0, len(st.History))
	for _, h := range st.History {
		items = append(items, promptItem{Question: h.Question, Answer: string(h.Answer)})
	}
	historyJSON, _ := json.Marshal(items)
	rejectedJSON, _ := json.Marshal(st.RejectedRaw)

	var b strings.Builder
	b.WriteString("أنت محرك لعبة تخمين لاعب كرة قدم مخفي.\n")
	b.WriteString("مهمتك: إما طرح سؤال نعم/لا واحد جديد، أو تخمين اسم اللاعب إذا كنت واثقاً جداً.\n\n")
	b.WriteString("قواعد صارمة:\n")
	b.WriteString("1) لا تكرر أي سؤال سبق طرحه ولا أي صياغة قريبة منه.\n")
	b.WriteString("2) لا تخمن اسماً مرفوضاً.\n")
	b.WriteString("3) أرجع JSON فقط بالصيغة: {\"type\":\"question\"|\"guess\",\"content\":\"...\",\"reason\":\"...\"}\n\n")
	fmt.Fprintf(&b, "الأسئلة السابقة وإجاباتها:\n%s\n\n", historyJSON)
	fmt.Fprintf(&b, "تخمينات مرفوضة:\n%s\n", rejectedJSON)
	if avoid != "" {
		fmt.Fprintf(&b, "\nتجنب تماماً: %s\n", avoid)
	}
	return b.String()
}

// generativeMove asks the text-generation service for one move, with a
// single duplicate-avoidance retry.
func (e *Engine) generativeMove(ctx context.Context, st *ConstraintState) *model.Move {
	if !llm.Available(e.llm) {
		return nil
	}
	avoid := ""
	for attempt := 0; attempt < 2; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
		raw, err := e.llm.Generate(cctx, e.generativePrompt(st, avoid))
		cancel()
		if err != nil {
			e.log.Warn("generative fallback failed", zap.Error(err))
			return nil
		}
		out, err := llm.DecodeMove(raw)
		if err != nil {
			e.log.Warn("generative output invalid", zap.Error(err))
			avoid = ""
			continue
		}

		if out.Type == "guess" {
			if st.IsRejected(out.Content) {
				avoid = out.Content
				continue
			}
			return model.NewGuessMove(out.Content, 0.5, "generative")
		}

		if text.IsNearDuplicate(out.Content, st.AskedNorms, text.NearDuplicateThreshold) || isBannedQuestion(out.Content) {
			avoid = out.Content
			continue
		}
		return e.adoptGeneratedQuestion(ctx, out.Content)
	}
	return nil
}

// adoptGeneratedQuestion registers a generated phrasing as a new attribute
// and question so the knowledge base can learn it going forward. Store
// failures still serve the question, just without ids.
func (e *Engine) adoptGeneratedQuestion(ctx context.Context, questionText string) *model.Move {
	attr, err := e.store.UpsertAttribute(ctx, model.Attribute{
		Key:   "generated",
		Value: text.Normalize(questionText),
		Label: questionText,
		Group: "generated",
	})
	if err != nil {
		return model.NewQuestionMove(questionText, "", "", "generative")
	}
	q, err := e.store.UpsertQuestion(ctx, attr.ID, questionText)
	if err != nil {
		return model.NewQuestionMove(questionText, "", attr.ID, "generative")
	}
	return model.NewQuestionMove(q.Text, q.ID, q.AttributeID, "generative")
}

// --- stage 5: static fallback bank ---

// fallbackBank is the fixed rotation of generic questions, ordered by
// strategic value.
var fallbackBank = []string{
	"هل يلعب في أوروبا؟",
	"هل هو لاعب معتزل؟",
	"هل يلعب كمهاجم؟",
	"هل فاز بدوري الأبطال؟",
	"هل يلعب في إنجلترا؟",
	"هل يلعب في إسبانيا؟",
	"هل هو أفريقي؟",
	"هل هو من أمريكا الجنوبية؟",
	"هل فاز بكأس العالم للأندية؟",
	"هل هو آسيوي؟",
	"هل يلعب كمدافع؟",
	"هل يلعب في خط الوسط؟",
	"هل هو حارس مرمى؟",
	"هل لعب في ريال مدريد؟",
	"هل لعب في برشلونة؟",
	"هل فاز بالكرة الذهبية؟",
	"هل لعب في مانشستر يونايتد؟",
	"هل هو أوروبي؟",
	"هل فاز بكأس العالم؟",
	"هل لعب في ليفربول؟",
}

// staticBankMove returns the first bank question not yet asked, or a random
// pick when the whole bank has been used. It cannot fail.
func (e *Engine) staticBankMove(st *ConstraintState) *model.Move {
	for _, q := range fallbackBank {
		if !text.IsNearDuplicate(q, st.AskedNorms, text.NearDuplicateThreshold) {
			return model.NewQuestionMove(q, "", "", "static_bank")
		}
	}
	q := fallbackBank[rand.Intn(len(fallbackBank))]
	return model.NewQuestionMove(q, "", "", "static_bank")
}
