package generate

import (
	"context"
	"fmt"
	"sync"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// MockGenerator returns a canned answer describing the evidence it received.
// It is safe for concurrent use; read Calls and Last once calls have returned.
type MockGenerator struct {
	Err   error
	Calls int
	Last  Evidence

	mu sync.Mutex
}

func (m *MockGenerator) Name() string { return "mock" }

func (m *MockGenerator) Answer(ctx context.Context, query string, ev Evidence) (string, error) {
	m.mu.Lock()
	m.Calls++
	m.Last = ev
	failure := m.Err
	m.mu.Unlock()
	if failure != nil {
		return "", failure
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("answer to %q from %s evidence", query, ev.Modality), nil
}

// disabledGenerator backs provider "none".
type disabledGenerator struct{}

func (disabledGenerator) Name() string { return "none" }

func (disabledGenerator) Answer(context.Context, string, Evidence) (string, error) {
	return "", ragerr.New(ragerr.CodeGenerateUpstreamFailure, "answer generation is disabled", ragerr.FieldProvider("none"))
}
