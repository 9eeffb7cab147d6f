package ble

import (
	"github.com/google/uuid"

	"blecopter-go/services/ble/adv"
)

// Handle names a characteristic of the local GATT profile.
type Handle uint8

const (
	HandleBatteryLevel Handle = iota + 1
	HandleChargerState
	HandlePeriodicUpdate
	HandleGyro
	HandleReboot
	HandleTuning
	HandleSensorReset
)

func (h Handle) String() string {
	switch h {
	case HandleBatteryLevel:
		return "battery_level"
	case HandleChargerState:
		return "charger_state"
	case HandlePeriodicUpdate:
		return "periodic_update"
	case HandleGyro:
		return "gyro"
	case HandleReboot:
		return "reboot"
	case HandleTuning:
		return "tuning_update"
	case HandleSensorReset:
		return "sensor_reset"
	}
	return "unknown"
}

// Props is a characteristic property set.
type Props uint8

const (
	PropRead Props = 1 << iota
	PropWrite
	PropNotify
)

func (p Props) Has(q Props) bool { return p&q == q }

// Service and characteristic UUIDs.
var (
	BatteryService   = adv.UUID16(0x180F)
	BatteryLevelUUID = adv.UUID16(0x2A19)

	PowerService       = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887a089cf1")
	ChargerStateUUID   = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887a189cf1")
	PeriodicUpdateUUID = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887a389cf1")
	GyroUUID           = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887a489cf1")

	ControlService  = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887b089cf1")
	RebootUUID      = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887b189cf1")
	TuningUUID      = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887b289cf1")
	SensorResetUUID = uuid.MustParse("38924a07-23d7-43fe-af5d-9c887b389cf1")
)

// Characteristic describes one value of the profile.
type Characteristic struct {
	Handle Handle
	UUID   uuid.UUID
	Props  Props
	Size   int
}

type Service struct {
	UUID            uuid.UUID
	Characteristics []Characteristic
}

// Profile is the complete local GATT table.
type Profile struct {
	Services []Service
}

// DefaultProfile returns the battery, power and control services.
func DefaultProfile() Profile {
	return Profile{Services: []Service{
		{UUID: BatteryService, Characteristics: []Characteristic{
			{HandleBatteryLevel, BatteryLevelUUID, PropRead | PropNotify, 1},
		}},
		{UUID: PowerService, Characteristics: []Characteristic{
			{HandleChargerState, ChargerStateUUID, PropRead | PropNotify, 2},
			{HandlePeriodicUpdate, PeriodicUpdateUUID, PropNotify, 6},
			{HandleGyro, GyroUUID, PropNotify, 2},
		}},
		{UUID: ControlService, Characteristics: []Characteristic{
			{HandleReboot, RebootUUID, PropWrite, 1},
			{HandleTuning, TuningUUID, PropWrite, 6},
			{HandleSensorReset, SensorResetUUID, PropWrite, 1},
		}},
	}}
}

// Lookup finds a characteristic by handle.
func (p Profile) Lookup(h Handle) (Characteristic, bool) {
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if c.Handle == h {
				return c, true
			}
		}
	}
	return Characteristic{}, false
}
