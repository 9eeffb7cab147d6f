package types

import (
	"bytes"
	"testing"

	"blecopter-go/errcode"
)

func TestPeriodicUpdate_WireLayout(t *testing.T) {
	u := PeriodicUpdate{Voltage: 3700, Current: -250, Temperature: 2981}
	p, _ := u.MarshalBinary()
	want := []byte{0x74, 0x0e, 0x06, 0xff, 0xa5, 0x0b}
	if !bytes.Equal(p, want) {
		t.Fatalf("wire = % x, want % x", p, want)
	}

	var back PeriodicUpdate
	if err := back.UnmarshalBinary(p); err != nil {
		t.Fatal(err)
	}
	if back != u {
		t.Fatalf("decoded %+v, want %+v", back, u)
	}
}

func TestChargerState_Wire(t *testing.T) {
	cases := []struct {
		in   ChargerState
		wire []byte
	}{
		{ChargerState{}, []byte{0, 0}},
		{ChargerState{Charging: true}, []byte{1, 0}},
		{ChargerState{Failure: true}, []byte{0, 1}},
		{ChargerState{Charging: true, Failure: true}, []byte{1, 1}},
	}
	for _, tc := range cases {
		p, _ := tc.in.MarshalBinary()
		if !bytes.Equal(p, tc.wire) {
			t.Fatalf("%+v: wire = % x, want % x", tc.in, p, tc.wire)
		}
	}
}

func TestTuningUpdate_Gains(t *testing.T) {
	var tu TuningUpdate
	if err := tu.UnmarshalBinary([]byte{0xc8, 0x00, 0x32, 0x00, 0x05, 0x00}); err != nil {
		t.Fatal(err)
	}
	g := tu.Gains()
	if g.P != 2 || g.I != 0.5 || g.D != 0.05 {
		t.Fatalf("gains = %+v", g)
	}
}

func TestShortPayloadsRejected(t *testing.T) {
	var cs ChargerState
	var pu PeriodicUpdate
	var tu TuningUpdate
	for name, err := range map[string]error{
		"charger":  cs.UnmarshalBinary([]byte{1}),
		"periodic": pu.UnmarshalBinary([]byte{1, 2, 3}),
		"tuning":   tu.UnmarshalBinary(nil),
	} {
		if !errcode.Is(err, errcode.InvalidPayload) {
			t.Fatalf("%s: err = %v, want invalid_payload", name, err)
		}
	}
	if _, err := DecodeBool(nil); err == nil {
		t.Fatal("DecodeBool(nil) accepted")
	}
	if _, err := DecodeGyro([]byte{1}); err == nil {
		t.Fatal("DecodeGyro short accepted")
	}
}

func TestGyroWire(t *testing.T) {
	p := EncodeGyro(-2)
	if !bytes.Equal(p, []byte{0xfe, 0xff}) {
		t.Fatalf("wire = % x", p)
	}
	v, err := DecodeGyro(p)
	if err != nil || v != -2 {
		t.Fatalf("DecodeGyro = %d, %v", v, err)
	}
}

func TestButtonsFromBits_DropsUnknown(t *testing.T) {
	b := ButtonsFromBits(1<<0 | 1<<2 | 1<<7 | 1<<20)
	if b != ButtonA|ButtonRB {
		t.Fatalf("buttons = %#x", uint32(b))
	}
	if !b.Has(ButtonRB) || b.Has(ButtonB) {
		t.Fatal("Has mismatch")
	}
}
