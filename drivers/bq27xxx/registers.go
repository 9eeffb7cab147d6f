package bq27xxx

// AddressDefault is the gauge's fixed 7-bit address.
const AddressDefault uint16 = 0x55

// Standard commands. Each reads a little-endian word.
const (
	cmdControl        byte = 0x00
	cmdTemperature    byte = 0x02 // 0.1 K
	cmdVoltage        byte = 0x04 // mV
	cmdFlags          byte = 0x06
	cmdAverageCurrent byte = 0x10 // mA, signed
	cmdStateOfCharge  byte = 0x1C // %
)

// Control subcommands, written to cmdControl.
const (
	subControlStatus uint16 = 0x0000
	subDeviceType    uint16 = 0x0001
	subSetCfgUpdate  uint16 = 0x0013
	subSeal          uint16 = 0x0020
	subSoftReset     uint16 = 0x0042
	subUnsealKey     uint16 = 0x8000
)

// DeviceType is what the bq27427 reports for subDeviceType.
const DeviceType uint16 = 0x0427

// ChemID selects one of the gauge's built-in chemistry profiles.
type ChemID uint16

const (
	ChemA ChemID = 0x0030 // 4.35 V
	ChemB ChemID = 0x0031 // 4.2 V
	ChemC ChemID = 0x0032 // 4.4 V
)

// Flags is the status word returned by the Flags command.
type Flags uint16

const (
	FlagDischarging Flags = 1 << 0
	FlagSOCF        Flags = 1 << 1 // final SoC threshold reached
	FlagSOC1        Flags = 1 << 2 // SoC threshold 1 reached
	FlagBatDet      Flags = 1 << 3
	FlagCfgUpMode   Flags = 1 << 4
	FlagITPOR       Flags = 1 << 5 // RAM reset to defaults
	FlagOCVTaken    Flags = 1 << 7
	FlagChargeFull  Flags = 1 << 9
)

func (f Flags) Has(x Flags) bool { return f&x != 0 }

// ControlStatus is the word returned by the CONTROL_STATUS subcommand.
type ControlStatus uint16

const (
	StatusInitComp ControlStatus = 1 << 7
	StatusSealed   ControlStatus = 1 << 13
)

func (s ControlStatus) Has(x ControlStatus) bool { return s&x != 0 }
