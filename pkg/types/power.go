package types

import "time"

// PowerStatus is a snapshot of the home battery/solar system's power flow,
// fetched once per run.
type PowerStatus struct {
	Timestamp time.Time

	// BatterySOC is the home battery state of charge in percent.
	BatterySOC float64

	// SolarW is the instantaneous solar generation in watts.
	SolarW float64
	// LoadW is the instantaneous home load in watts.
	LoadW float64
	// GridW is the grid flow in watts, positive when importing and negative
	// when exporting.
	GridW float64
	// BatteryW is the home battery flow in watts, positive when discharging
	// and negative when charging.
	BatteryW float64

	// InverterMaxW is the inverter's rated AC output in watts. Additional
	// vehicle load cannot push the inverter past this rating.
	InverterMaxW float64
	// BatteryCapacityKWH is the home battery's total capacity.
	BatteryCapacityKWH float64
}

// FeedInW returns the power currently exported to the grid, in watts.
// Negative when the home is importing.
func (p PowerStatus) FeedInW() float64 {
	return -p.GridW
}

// BatteryChargingW returns the power currently charging the home battery, in
// watts. Negative when the battery is discharging.
func (p PowerStatus) BatteryChargingW() float64 {
	return -p.BatteryW
}
