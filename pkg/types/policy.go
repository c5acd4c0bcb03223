package types

// ChargeAction is what the decision engine wants done with the vehicle.
type ChargeAction int

const (
	// ActionNone leaves the vehicle alone.
	ActionNone ChargeAction = iota
	// ActionStart begins charging at the decided current.
	ActionStart
	// ActionStop halts charging.
	ActionStop
	// ActionAdjustAmps keeps charging but changes the current.
	ActionAdjustAmps
)

func (a ChargeAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionAdjustAmps:
		return "adjust-amps"
	}
	return "unknown"
}

// ChargePolicy holds the comparison thresholds the decision engine works
// with. Every rule the engine applies is parameterized here rather than
// hard-coded; the values come from the site configuration file.
type ChargePolicy struct {
	// MinSurplusW is the minimum available surplus required to start
	// charging. Once charging, the current is re-paced even below this.
	MinSurplusW float64 `json:"min_surplus_watts" validate:"min=0"`

	// Volts is the AC voltage the inverter outputs.
	Volts float64 `json:"volts" validate:"min=0"`
	// Phases is the number of phases the vehicle charges on.
	Phases int `json:"phases" validate:"min=0,max=3"`

	// MinAmps is the lowest useful charge current. Vehicle charging is
	// inefficient below a few amps, so targets under this become zero.
	MinAmps int `json:"min_amps" validate:"min=0"`
	// MaxAmps caps the requested current regardless of what the vehicle
	// would accept.
	MaxAmps int `json:"max_amps" validate:"min=0,max=48"`

	// BatteryChargingFactor (0..1) is how much of the power currently
	// charging the home battery may be diverted to the vehicle. 0 means
	// only grid feed-in counts as surplus.
	BatteryChargingFactor float64 `json:"battery_charging_factor" validate:"min=0,max=1"`

	// HomeBatteryReserveSOC blocks vehicle charging entirely while the home
	// battery is below this state of charge, in percent.
	HomeBatteryReserveSOC float64 `json:"home_battery_reserve_soc" validate:"min=0,max=100"`
}

// VoltsPerAmp returns the watts one amp of charge current consumes across
// all configured phases.
func (p ChargePolicy) VoltsPerAmp() float64 {
	phases := p.Phases
	if phases <= 0 {
		phases = 1
	}
	return p.Volts * float64(phases)
}

// TeslaCredentials identify the vehicle account. The refresh/access tokens
// themselves live in the token cache file, bootstrapped by an interactive
// authorization flow outside this tool.
type TeslaCredentials struct {
	Email        string `json:"email" validate:"required,email"`
	ClientID     string `json:"client_id"`
	VehicleIndex int    `json:"vehicle_index" validate:"min=0"`
}

// AlphaESSCredentials identify the inverter on the AlphaESS Open API. Every
// request is signed with the app secret, so there is no session token.
type AlphaESSCredentials struct {
	AppID     string `json:"app_id" validate:"required"`
	AppSecret string `json:"app_secret" validate:"required"`
	Serial    string `json:"serial" validate:"required"`
}
