package vehicle

import (
	"context"
	"sync"

	"github.com/suncharge/suncharge/pkg/types"
)

// Mock implements API for tests. It records every command it receives.
type Mock struct {
	mu sync.Mutex

	State types.VehicleState
	Err   error

	StartCalls   int
	StopCalls    int
	SetAmpsCalls []int
	WakeCalls    int
}

// ChargeState returns the configured state or error.
func (m *Mock) ChargeState(ctx context.Context) (types.VehicleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return types.VehicleState{}, m.Err
	}
	return m.State, nil
}

// StartCharging records the call.
func (m *Mock) StartCharging(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	return m.Err
}

// StopCharging records the call.
func (m *Mock) StopCharging(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return m.Err
}

// SetChargeAmps records the requested current.
func (m *Mock) SetChargeAmps(ctx context.Context, amps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetAmpsCalls = append(m.SetAmpsCalls, amps)
	return m.Err
}

// WakeUp records the call.
func (m *Mock) WakeUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WakeCalls++
	return m.Err
}
