package types

import "time"

// ChargingState is the normalized charging status of the vehicle.
type ChargingState int

const (
	// ChargingStateDisconnected means no charge cable is attached.
	ChargingStateDisconnected ChargingState = iota
	// ChargingStateStopped means the cable is attached but no current flows.
	ChargingStateStopped
	// ChargingStateCharging means the vehicle is actively drawing current.
	ChargingStateCharging
	// ChargingStateComplete means the vehicle reached its charge limit.
	ChargingStateComplete
)

func (s ChargingState) String() string {
	switch s {
	case ChargingStateDisconnected:
		return "disconnected"
	case ChargingStateStopped:
		return "stopped"
	case ChargingStateCharging:
		return "charging"
	case ChargingStateComplete:
		return "complete"
	}
	return "unknown"
}

// ParseChargingState maps the raw charging_state string reported by the
// vehicle API onto the normalized enum. The second return value is false when
// the raw value was not recognized; callers should treat that as stopped and
// log it.
func ParseChargingState(raw string) (ChargingState, bool) {
	switch raw {
	case "Disconnected":
		return ChargingStateDisconnected, true
	case "Stopped", "NoPower":
		return ChargingStateStopped, true
	case "Charging", "Starting":
		return ChargingStateCharging, true
	case "Complete":
		return ChargingStateComplete, true
	}
	return ChargingStateStopped, false
}

// VehicleState is a snapshot of the vehicle's plug and charge status, fetched
// once per run.
type VehicleState struct {
	Timestamp time.Time

	// BatteryLevel is the vehicle battery SOC in percent.
	BatteryLevel int
	// ChargeLimitSOC is the user-configured charge limit in percent.
	ChargeLimitSOC int
	// RangeKM is the rated range remaining.
	RangeKM float64

	PluggedIn bool
	Charging  ChargingState

	// ChargerAmps is the current the charger is actually delivering.
	ChargerAmps int
	// MaxRequestAmps is the highest current the vehicle will accept.
	MaxRequestAmps int

	// Charge-port and preconditioning details used to decide whether the
	// vehicle can charge at all.
	PortLatchEngaged     bool
	PortDoorOpen         bool
	NotEnoughPowerToHeat bool

	// Session summary, reported for operator visibility.
	ChargeAddedKM  float64
	ChargeAddedKWH float64
	HoursToFull    float64
}

// AbleToCharge reports whether the vehicle is physically able to accept a
// charge and, if not, the blocking reason.
func (v VehicleState) AbleToCharge() (bool, string) {
	if !v.PluggedIn || v.Charging == ChargingStateDisconnected {
		return false, "vehicle is not plugged in"
	}
	if v.NotEnoughPowerToHeat {
		return false, "not enough power to heat the battery"
	}
	if !v.PortLatchEngaged {
		return false, "charge port latch is not engaged"
	}
	if !v.PortDoorOpen {
		return false, "charge port door is not open"
	}
	return true, ""
}
