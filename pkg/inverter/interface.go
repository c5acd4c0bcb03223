package inverter

import (
	"context"

	"github.com/suncharge/suncharge/pkg/types"
)

// System defines the interface for reading the home energy system's power
// flow.
type System interface {
	// PowerStatus returns the current power flow snapshot.
	PowerStatus(ctx context.Context) (types.PowerStatus, error)
}
