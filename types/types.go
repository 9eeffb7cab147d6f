package types

// ---- Controller input ----

// ButtonFlags is the truncated controller button mask.
type ButtonFlags uint32

const (
	ButtonA         ButtonFlags = 1 << 0
	ButtonB         ButtonFlags = 1 << 1
	ButtonX         ButtonFlags = 1 << 3
	ButtonY         ButtonFlags = 1 << 4
	ButtonLB        ButtonFlags = 1 << 6
	ButtonRB        ButtonFlags = 1 << 7
	ButtonView      ButtonFlags = 1 << 10
	ButtonMenu      ButtonFlags = 1 << 11
	ButtonXbox      ButtonFlags = 1 << 12
	ButtonLeftStick ButtonFlags = 1 << 13
	ButtonRightStk  ButtonFlags = 1 << 14
	ButtonShare     ButtonFlags = 1 << 16

	ButtonsAll = ButtonA | ButtonB | ButtonX | ButtonY | ButtonLB | ButtonRB |
		ButtonView | ButtonMenu | ButtonXbox | ButtonLeftStick | ButtonRightStk | ButtonShare
)

// ButtonsFromBits drops unknown bits.
func ButtonsFromBits(bits uint32) ButtonFlags { return ButtonFlags(bits) & ButtonsAll }

// Has reports whether every flag in f is set.
func (b ButtonFlags) Has(f ButtonFlags) bool { return b&f == f }

func (b ButtonFlags) Empty() bool { return b == 0 }

// Stick is a signed axis pair, roughly [-32767, 32768]. Y grows upwards.
type Stick struct {
	X, Y int32
}

// ControllerInput is one decoded HID report.
type ControllerInput struct {
	Left, Right  Stick
	LeftTrigger  uint16
	RightTrigger uint16
	Buttons      ButtonFlags
}

// ---- Host requests ----

type RequestKind uint8

const (
	RequestReboot RequestKind = iota + 1
	RequestTuning
	RequestSensorReset
)

func (k RequestKind) String() string {
	switch k {
	case RequestReboot:
		return "reboot"
	case RequestTuning:
		return "tuning_update"
	case RequestSensorReset:
		return "sensor_reset"
	}
	return "unknown"
}

// Request is a host-originated request. Tuning is only meaningful for
// RequestTuning.
type Request struct {
	Kind   RequestKind
	Tuning PID
}

// ---- Indications ----

type Indication uint8

const (
	IndicationDisabled Indication = iota
	IndicationBlinkFast
	IndicationBlinkSlow
)

func (i Indication) String() string {
	switch i {
	case IndicationBlinkFast:
		return "blink_fast"
	case IndicationBlinkSlow:
		return "blink_slow"
	}
	return "disabled"
}

// ---- Central link phases ----

type CentralPhase uint8

const (
	PhaseIdle CentralPhase = iota
	PhaseScanning
	PhaseConnecting
	PhaseEncrypting
	PhaseDiscovering
	PhaseSubscribed
)

func (p CentralPhase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseConnecting:
		return "connecting"
	case PhaseEncrypting:
		return "encrypting"
	case PhaseDiscovering:
		return "discovering"
	case PhaseSubscribed:
		return "subscribed"
	}
	return "idle"
}

// ---- Board ----

// Resetter performs the fatal action: an immediate hard reset.
type Resetter interface {
	Reset()
}
