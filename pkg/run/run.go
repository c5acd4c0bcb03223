package run

import (
	"context"
	"log/slog"

	"github.com/suncharge/suncharge/pkg/controller"
	"github.com/suncharge/suncharge/pkg/inverter"
	"github.com/suncharge/suncharge/pkg/log"
	"github.com/suncharge/suncharge/pkg/types"
	"github.com/suncharge/suncharge/pkg/vehicle"
)

// Runner performs one pass: read both systems, decide, apply. It issues at
// most one start or stop command per run; continuous steering is left to
// whatever schedules the binary.
type Runner struct {
	Vehicle  vehicle.API
	Inverter inverter.System
	Policy   types.ChargePolicy
	DryRun   bool
}

// Once reads the vehicle and inverter, decides, and applies the decision.
// The decision is returned even when applying it failed.
func (r *Runner) Once(ctx context.Context) (controller.Decision, error) {
	vs, err := r.Vehicle.ChargeState(ctx)
	if err != nil {
		return controller.Decision{}, err
	}

	log.Ctx(ctx).InfoContext(ctx, "vehicle status",
		slog.Int("batteryLevel", vs.BatteryLevel),
		slog.Int("chargeLimitSOC", vs.ChargeLimitSOC),
		slog.String("chargingState", vs.Charging.String()),
		slog.Float64("rangeKM", vs.RangeKM),
		slog.Float64("chargeAddedKM", vs.ChargeAddedKM),
		slog.Float64("chargeAddedKWH", vs.ChargeAddedKWH),
		slog.Float64("hoursToFull", vs.HoursToFull),
	)

	ps, err := r.Inverter.PowerStatus(ctx)
	if err != nil {
		return controller.Decision{}, err
	}

	dec := controller.Decide(ctx, vs, ps, r.Policy)
	log.Ctx(ctx).InfoContext(ctx, "decision",
		slog.String("action", dec.Action.String()),
		slog.Int("amps", dec.Amps),
		slog.String("explanation", dec.Explanation),
	)

	if r.DryRun {
		if dec.Action != types.ActionNone {
			log.Ctx(ctx).InfoContext(ctx, "dry run: skipping commands", slog.String("action", dec.Action.String()))
		}
		return dec, nil
	}

	return dec, r.apply(ctx, dec)
}

func (r *Runner) apply(ctx context.Context, dec controller.Decision) error {
	switch dec.Action {
	case types.ActionStart:
		// the vehicle may have gone back to sleep since the status read
		if err := r.Vehicle.WakeUp(ctx); err != nil {
			return err
		}
		if err := r.Vehicle.SetChargeAmps(ctx, dec.Amps); err != nil {
			return err
		}
		if err := r.Vehicle.StartCharging(ctx); err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "charging started", slog.Int("amps", dec.Amps))
	case types.ActionStop:
		if err := r.Vehicle.StopCharging(ctx); err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "charging stopped")
	case types.ActionAdjustAmps:
		if err := r.Vehicle.SetChargeAmps(ctx, dec.Amps); err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "charge current adjusted", slog.Int("amps", dec.Amps))
	case types.ActionNone:
	}
	return nil
}
