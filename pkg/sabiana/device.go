package sabiana

// Mode is a device operating mode as named by the Sabiana backend.
type Mode string

const (
	ModeCooling Mode = "cooling"
	ModeHeating Mode = "heating"
	ModeFan     Mode = "fan"
	ModeAuto    Mode = "auto"
	ModeOff     Mode = "off"
)

// Device is the logical state of one climate unit.
type Device struct {
	ID            string
	Name          string
	Mode          Mode
	On            bool
	HeatingTarget float64 // °C, one decimal
	CoolingTarget float64 // °C, one decimal
	CurrentTemp   float64 // °C, one decimal
	FanSpeed      float64 // 0.0-1.0 in 0.1 steps, 0 when automatic
	FanAuto       bool
	Night         bool
}

// TargetTemperature returns the setpoint that is active for the current
// mode: the heating target while heating, the cooling target otherwise.
func (d Device) TargetTemperature() float64 {
	if d.Mode == ModeHeating {
		return d.HeatingTarget
	}
	return d.CoolingTarget
}

func (d *Device) applyRegister(r Register) {
	d.Mode = r.Mode
	d.On = r.On
	d.HeatingTarget = r.HeatingTarget
	d.CoolingTarget = r.CoolingTarget
	d.CurrentTemp = r.CurrentTemp
	d.FanSpeed = r.FanSpeed
	d.FanAuto = r.FanAuto
	d.Night = r.Night
}

func (d *Device) applyCommand(cmd Command) {
	if cmd.Mode == ModeOff {
		d.Mode = ModeOff
		d.On = false
	} else {
		d.Mode = cmd.Mode
		d.On = true
		if cmd.Mode == ModeHeating {
			d.HeatingTarget = cmd.Temperature
		} else {
			d.CoolingTarget = cmd.Temperature
		}
	}
	d.FanSpeed = cmd.FanSpeed
	d.FanAuto = cmd.FanSpeed == 0
	d.Night = cmd.Night
}

// Command describes a state change to push to a device.
// Temperature applies to the target matching Mode.
type Command struct {
	Mode        Mode
	Temperature float64
	FanSpeed    float64 // 0 selects automatic fan
	Night       bool
}
