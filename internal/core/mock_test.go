package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/cache"
	"github.com/playmind/guessball/internal/llm"
	"github.com/playmind/guessball/internal/store"
)

type MockLLM struct {
	Response      string
	ResponseQueue []string
	Prompts       []string
	Err           error
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

type MockSearch struct {
	Evidence string
	Image    string
	Err      error
}

func (m *MockSearch) LookupEntityEvidence(ctx context.Context, name string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Evidence, nil
}

func (m *MockSearch) LookupEntityImage(ctx context.Context, name string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Image, nil
}

// newTestEngine wires an engine over a fresh in-memory store with the given
// collaborator. A nil client disables the generative stages.
func newTestEngine(client llm.Client) (*Engine, *store.MemoryStore) {
	st := store.NewMemoryStore()
	log := zap.NewNop()
	matrix := cache.NewMatrixCache(st, 200, 0, log)
	catalog := cache.NewCatalog(st, 0, log)
	eng := New(st, matrix, catalog, client, &MockSearch{}, log, Options{})
	return eng, st
}
