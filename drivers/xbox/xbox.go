// Package xbox recognises Xbox Wireless controllers in advertisements and
// decodes their HID input reports.
package xbox

import (
	"bytes"
	"encoding/binary"

	"blecopter-go/services/ble/adv"
	"blecopter-go/types"
	"blecopter-go/x/mathx"
)

// GATT identifiers of the controller's HID service.
const (
	HIDService   uint16 = 0x1812
	HIDReportMap uint16 = 0x2A4B
	HIDReport    uint16 = 0x2A4D
	MicrosoftID  uint16 = 0x0006
)

// ReportSize is the length of an input report.
const ReportSize = 16

// SticksRange is the raw span of a stick axis.
const SticksRange int32 = 65535

const stickMid = SticksRange / 2

var (
	microsoftPrefix = []byte{0x06, 0x00}
	hidUUID16       = []byte{0x12, 0x18}
)

// IsCandidate reports whether an advertising payload carries Microsoft
// manufacturer data and lists the HID service. Malformed payloads are never
// candidates past the first bad entry.
func IsCandidate(payload []byte) bool {
	var microsoft, hid bool
	adv.Walk(payload, func(e adv.Entry) bool {
		switch e.Type {
		case adv.TypeManufacturerData:
			if bytes.HasPrefix(e.Data, microsoftPrefix) {
				microsoft = true
			}
		case adv.TypeIncomplete16, adv.TypeComplete16:
			for i := 0; i+2 <= len(e.Data); i += 2 {
				if bytes.Equal(e.Data[i:i+2], hidUUID16) {
					hid = true
				}
			}
		}
		return true
	})
	return microsoft && hid
}

// DecodeReport decodes one input report. Short reports are zero padded.
func DecodeReport(p []byte) types.ControllerInput {
	var r [ReportSize]byte
	copy(r[:], p)

	le := binary.LittleEndian
	buttons := uint32(r[13]) | uint32(r[14])<<8 | uint32(r[15])<<16

	return types.ControllerInput{
		Left: types.Stick{
			X: mapStick(le.Uint16(r[0:2])),
			Y: -mapStick(le.Uint16(r[2:4])),
		},
		Right: types.Stick{
			X: mapStick(le.Uint16(r[4:6])),
			Y: -mapStick(le.Uint16(r[6:8])),
		},
		LeftTrigger:  le.Uint16(r[8:10]),
		RightTrigger: le.Uint16(r[10:12]),
		Buttons:      types.ButtonsFromBits(buttons),
	}
}

func mapStick(v uint16) int32 { return int32(v) - stickMid }

// EncodeReport is the inverse of DecodeReport, for simulated controllers.
func EncodeReport(in types.ControllerInput) [ReportSize]byte {
	var r [ReportSize]byte
	le := binary.LittleEndian
	le.PutUint16(r[0:2], unmapStick(in.Left.X))
	le.PutUint16(r[2:4], unmapStick(-in.Left.Y))
	le.PutUint16(r[4:6], unmapStick(in.Right.X))
	le.PutUint16(r[6:8], unmapStick(-in.Right.Y))
	le.PutUint16(r[8:10], in.LeftTrigger)
	le.PutUint16(r[10:12], in.RightTrigger)
	b := uint32(in.Buttons & types.ButtonsAll)
	r[13], r[14], r[15] = byte(b), byte(b>>8), byte(b>>16)
	return r
}

func unmapStick(v int32) uint16 {
	return uint16(mathx.Clamp(v+stickMid, 0, SticksRange))
}
