package vehicle

import (
	"context"

	"github.com/suncharge/suncharge/pkg/types"
)

// API defines the interface for reading and controlling a vehicle's charging.
type API interface {
	// ChargeState returns a snapshot of the vehicle's plug and charge status.
	ChargeState(ctx context.Context) (types.VehicleState, error)

	// StartCharging tells the vehicle to begin charging.
	StartCharging(ctx context.Context) error

	// StopCharging tells the vehicle to stop charging.
	StopCharging(ctx context.Context) error

	// SetChargeAmps sets the charge current the vehicle should draw.
	SetChargeAmps(ctx context.Context, amps int) error

	// WakeUp wakes the vehicle and blocks until it is online.
	WakeUp(ctx context.Context) error
}
