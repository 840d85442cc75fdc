// Package worker runs the background knowledge expander: it fills missing
// fact cells by asking the language model about batches of entities, so the
// matrix densifies between games instead of during them.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/cache"
	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/llm"
	"github.com/playmind/guessball/internal/store"
)

const (
	// Accept thresholds for model-sourced facts.
	minDefiniteConfidence = 0.65
	minMaybeConfidence    = 0.6

	factSource = "llm"

	DefaultBatchSize = 10
	DefaultInterval  = 60 * time.Minute
)

// Expander fills attribute gaps asynchronously. An in-flight set keyed by
// (attribute, entity) guarantees each cell is populated at most once
// concurrently, whatever mix of triggered and periodic runs is active.
type Expander struct {
	store     store.Store
	catalog   *cache.Catalog
	llm       llm.Client
	log       *zap.Logger
	batchSize int
	interval  time.Duration
	timeout   time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Options tunes the expander; zero values pick defaults.
type Options struct {
	BatchSize int
	Interval  time.Duration
	Timeout   time.Duration
}

func New(st store.Store, catalog *cache.Catalog, client llm.Client, log *zap.Logger, opts Options) *Expander {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if client == nil {
		client = llm.Noop{}
	}
	return &Expander{
		store:     st,
		catalog:   catalog,
		llm:       client,
		log:       log,
		batchSize: opts.BatchSize,
		interval:  opts.Interval,
		timeout:   opts.Timeout,
		inFlight:  make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// FillAttributeAsync kicks one gap-fill batch for the attribute in the
// background. Called on the request path, so it must not block.
func (e *Expander) FillAttributeAsync(attributeID, questionText string) {
	if !llm.Available(e.llm) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*e.timeout)
		defer cancel()
		if err := e.fillAttribute(ctx, attributeID, questionText); err != nil {
			e.log.Warn("gap fill failed", zap.String("feature", attributeID), zap.Error(err))
		}
	}()
}

// Start launches the periodic sweep over the attribute catalog. Stop once
// when shutting down.
func (e *Expander) Start() {
	if !llm.Available(e.llm) {
		return
	}
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Expander) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// sweep runs one gap-fill batch per cataloged attribute.
func (e *Expander) sweep() {
	for _, attr := range e.catalog.Attributes() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*e.timeout)
		err := e.fillAttribute(ctx, attr.ID, attr.Label)
		cancel()
		if err != nil {
			e.log.Warn("sweep batch failed", zap.String("feature", attr.ID), zap.Error(err))
		}
	}
}

func cellKey(attributeID, entityID string) string {
	return attributeID + "|" + entityID
}

// acquire claims the gap cells not already being populated and returns the
// claimed subset.
func (e *Expander) acquire(attributeID string, gaps []store.Gap) []store.Gap {
	e.mu.Lock()
	defer e.mu.Unlock()
	claimed := gaps[:0]
	for _, g := range gaps {
		key := cellKey(attributeID, g.EntityID)
		if _, busy := e.inFlight[key]; busy {
			continue
		}
		e.inFlight[key] = struct{}{}
		claimed = append(claimed, g)
	}
	return claimed
}

func (e *Expander) release(attributeID string, gaps []store.Gap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range gaps {
		delete(e.inFlight, cellKey(attributeID, g.EntityID))
	}
}

// fillAttribute populates up to one batch of missing cells for the
// attribute.
func (e *Expander) fillAttribute(ctx context.Context, attributeID, questionText string) error {
	gaps, err := e.store.AttributeGaps(ctx, attributeID, e.batchSize)
	if err != nil {
		return err
	}
	claimed := e.acquire(attributeID, gaps)
	if len(claimed) == 0 {
		return nil
	}
	defer e.release(attributeID, claimed)

	raw, err := e.llm.Generate(ctx, batchPrompt(questionText, claimed))
	if err != nil {
		return err
	}
	out, err := llm.DecodeFacts(raw)
	if err != nil {
		return err
	}

	byID := make(map[string]store.Gap, len(claimed))
	for _, g := range claimed {
		byID[g.EntityID] = g
	}
	stored := 0
	for _, item := range out.Items {
		if _, known := byID[item.EntityID]; !known {
			continue
		}
		answer := model.ParseAnswer(item.Answer)
		switch answer {
		case model.AnswerYes, model.AnswerNo:
			if item.Confidence < minDefiniteConfidence {
				continue
			}
		case model.AnswerMaybe:
			if item.Confidence < minMaybeConfidence {
				continue
			}
		default:
			continue
		}
		if err := e.store.UpsertFact(ctx, item.EntityID, attributeID, answer, factSource, item.Confidence); err != nil {
			e.log.Warn("fact store failed", zap.String("candidate", item.EntityID), zap.Error(err))
			continue
		}
		stored++
	}
	if stored > 0 {
		e.log.Info("knowledge gaps filled",
			zap.String("feature", attributeID),
			zap.Int("asked", len(claimed)),
			zap.Int("stored", stored))
	}
	return nil
}

func batchPrompt(questionText string, gaps []store.Gap) string {
	type row struct {
		CandidateID string `json:"candidate_id"`
		Name        string `json:"name"`
	}
	rows := make([]row, 0, len(gaps))
	for _, g := range gaps {
		rows = append(rows, row{CandidateID: g.EntityID, Name: g.EntityName})
	}
	body, _ := json.Marshal(rows)

	var b strings.Builder
	fmt.Fprintf(&b, "السؤال: %s\n\n", questionText)
	b.WriteString("أجب عن السؤال أعلاه لكل لاعب كرة قدم في القائمة.\n")
	fmt.Fprintf(&b, "اللاعبون:\n%s\n\n", body)
	b.WriteString("أرجع JSON فقط بالصيغة:\n")
	b.WriteString(`{"items":[{"candidate_id":"...","answer":"yes|no|maybe|unknown","confidence":0.0}]}`)
	b.WriteString("\nاستخدم unknown عندما لا تكون متأكداً.")
	return b.String()
}
