package inverter

import (
	"context"
	"sync"

	"github.com/suncharge/suncharge/pkg/types"
)

// Mock implements System for tests.
type Mock struct {
	mu sync.Mutex

	Status types.PowerStatus
	Err    error

	Calls int
}

// PowerStatus returns the configured status or error.
func (m *Mock) PowerStatus(ctx context.Context) (types.PowerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return types.PowerStatus{}, m.Err
	}
	return m.Status, nil
}
