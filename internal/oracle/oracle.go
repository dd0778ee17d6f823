// Package oracle holds operator-resolved question answers in memory.
package oracle

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// Memory is a domain.Oracle whose answers are set by Resolve. A question is
// finalized once it has an answer; answers never change.
type Memory struct {
	mu      sync.RWMutex
	answers map[common.Hash]common.Hash
}

var _ domain.Oracle = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{answers: make(map[common.Hash]common.Hash)}
}

// Load seeds previously persisted answers.
func (m *Memory) Load(answers map[common.Hash]common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.answers, answers)
}

// Resolve finalizes questionID with answer.
func (m *Memory) Resolve(_ context.Context, questionID, answer common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.answers[questionID]; ok {
		if prev == answer {
			return nil
		}
		return fmt.Errorf("oracle: question %s already resolved: %w", questionID.Hex(), domain.ErrAlreadyExists)
	}
	m.answers[questionID] = answer
	return nil
}

func (m *Memory) IsFinalized(_ context.Context, questionID common.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.answers[questionID]
	return ok, nil
}

func (m *Memory) ResultFor(_ context.Context, questionID common.Hash) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.answers[questionID]
	if !ok {
		return common.Hash{}, fmt.Errorf("oracle: question %s: %w", questionID.Hex(), domain.ErrResultsUnavailable)
	}
	return a, nil
}
