package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/suncharge/suncharge/pkg/types"
)

// Decision represents the result of the decision logic.
type Decision struct {
	Action types.ChargeAction
	// Amps is the charge current to set for start and adjust-amps actions.
	Amps        int
	Explanation string
}

// Decide determines what to do with the vehicle's charging based on the
// vehicle's charge state, the home power flow, and the configured policy.
// It is pure: no I/O, and the same inputs always produce the same decision.
func Decide(ctx context.Context, vs types.VehicleState, ps types.PowerStatus, policy types.ChargePolicy) Decision {
	slog.DebugContext(ctx, "decide started",
		slog.String("chargingState", vs.Charging.String()),
		slog.Int("vehicleSOC", vs.BatteryLevel),
		slog.Int("chargerAmps", vs.ChargerAmps),
		slog.Float64("homeBatterySOC", ps.BatterySOC),
		slog.Float64("solarW", ps.SolarW),
		slog.Float64("gridW", ps.GridW),
		slog.Float64("batteryW", ps.BatteryW),
	)

	charging := vs.Charging == types.ChargingStateCharging

	// Rule 1: never start a charge on an unplugged vehicle.
	if !vs.PluggedIn || vs.Charging == types.ChargingStateDisconnected {
		return Decision{Action: types.ActionNone, Explanation: "vehicle is not plugged in"}
	}

	// Rule 2: nothing to do once the vehicle reached its limit.
	if vs.Charging == types.ChargingStateComplete || vs.BatteryLevel >= vs.ChargeLimitSOC {
		if charging {
			// the vehicle usually stops on its own at the limit, but don't
			// keep pushing current if it hasn't yet
			return Decision{Action: types.ActionStop, Explanation: "vehicle reached its charge limit"}
		}
		return Decision{Action: types.ActionNone, Explanation: "vehicle reached its charge limit"}
	}

	// Rule 3: physical eligibility. A blocked port or a cold battery means
	// commands would fail or be wasted.
	if able, reason := vs.AbleToCharge(); !able {
		if charging {
			return Decision{Action: types.ActionStop, Explanation: reason}
		}
		return Decision{Action: types.ActionNone, Explanation: reason}
	}

	available := availableWatts(ctx, vs, ps, policy)
	target := targetAmps(vs, policy, available)

	slog.DebugContext(ctx, "decide computed target",
		slog.Float64("availableW", available),
		slog.Int("targetAmps", target),
		slog.Int("actualAmps", vs.ChargerAmps),
	)

	if !charging {
		// only start once there's a meaningful surplus; re-pacing below the
		// threshold only happens for an already-running charge
		if target > 0 && available >= policy.MinSurplusW {
			return Decision{
				Action:      types.ActionStart,
				Amps:        target,
				Explanation: fmt.Sprintf("%.0fW surplus available, starting at %dA", available, target),
			}
		}
		return Decision{Action: types.ActionNone, Explanation: fmt.Sprintf("%.0fW surplus is not enough to start", available)}
	}

	if target == 0 {
		return Decision{Action: types.ActionStop, Explanation: "no surplus left, stopping"}
	}
	if target != vs.ChargerAmps {
		return Decision{
			Action:      types.ActionAdjustAmps,
			Amps:        target,
			Explanation: fmt.Sprintf("re-pacing from %dA to %dA for %.0fW surplus", vs.ChargerAmps, target, available),
		}
	}
	return Decision{Action: types.ActionNone, Explanation: fmt.Sprintf("already charging at %dA", vs.ChargerAmps)}
}

// availableWatts computes how much surplus power the vehicle could draw
// without importing from the grid or starving the home battery.
func availableWatts(ctx context.Context, vs types.VehicleState, ps types.PowerStatus, policy types.ChargePolicy) float64 {
	// the home battery keeps its reserve before the vehicle gets anything
	if ps.BatterySOC < policy.HomeBatteryReserveSOC {
		slog.DebugContext(ctx, "home battery below reserve",
			slog.Float64("soc", ps.BatterySOC),
			slog.Float64("reserveSOC", policy.HomeBatteryReserveSOC),
		)
		return 0
	}

	available := ps.FeedInW()

	// a share of the power charging the home battery may be diverted; power
	// the battery is discharging always counts against us
	batteryCharging := ps.BatteryChargingW()
	if batteryCharging > 0 {
		available += batteryCharging * policy.BatteryChargingFactor
	} else {
		available += batteryCharging
	}

	// the inverter can't deliver more than its rating on top of the home
	// load, however much is feeding in
	if ps.InverterMaxW > 0 {
		if headroom := ps.InverterMaxW - ps.LoadW; available > headroom {
			slog.DebugContext(ctx, "inverter rating caps available power",
				slog.Float64("availableW", available),
				slog.Float64("headroomW", headroom),
			)
			available = headroom
		}
	}
	return available
}

// targetAmps converts the available watts into the charge current to
// request, on top of what the vehicle is already drawing.
func targetAmps(vs types.VehicleState, policy types.ChargePolicy, available float64) int {
	vpa := policy.VoltsPerAmp()
	if vpa <= 0 {
		return 0
	}

	target := vs.ChargerAmps + int(math.Floor(available/vpa))

	maxAmps := policy.MaxAmps
	if vs.MaxRequestAmps > 0 && vs.MaxRequestAmps < maxAmps {
		maxAmps = vs.MaxRequestAmps
	}
	if target > maxAmps {
		target = maxAmps
	}
	if target < policy.MinAmps {
		target = 0
	}
	return target
}
