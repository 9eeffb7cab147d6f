// Package adv builds and walks legacy (31-byte) advertising payloads.
package adv

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxLegacy is the payload limit of a legacy advertisement or scan response.
const MaxLegacy = 31

// AD types.
const (
	TypeFlags            byte = 0x01
	TypeIncomplete16     byte = 0x02
	TypeComplete16       byte = 0x03
	TypeIncomplete128    byte = 0x06
	TypeComplete128      byte = 0x07
	TypeShortName        byte = 0x08
	TypeCompleteName     byte = 0x09
	TypeManufacturerData byte = 0xFF
)

// Flags bits.
const (
	FlagLEGeneralDiscoverable byte = 0x02
	FlagBREDRNotSupported     byte = 0x04
)

// Base is the Bluetooth base UUID used to expand 16-bit assigned numbers.
var Base = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands an assigned number onto the base UUID.
func UUID16(v uint16) uuid.UUID {
	u := Base
	binary.BigEndian.PutUint16(u[2:4], v)
	return u
}

// Short returns the 16-bit form of u when u lies on the base UUID.
func Short(u uuid.UUID) (uint16, bool) {
	v := binary.BigEndian.Uint16(u[2:4])
	if UUID16(v) != u {
		return 0, false
	}
	return v, true
}

// LittleEndian returns u in the byte order used on air.
func LittleEndian(u uuid.UUID) [16]byte {
	var out [16]byte
	for i := range u {
		out[15-i] = u[i]
	}
	return out
}

// -----------------------------------------------------------------------------
// Builder
// -----------------------------------------------------------------------------

// Builder appends AD structures. The first error sticks and is reported by Bytes.
type Builder struct {
	buf []byte
	err error
}

func (b *Builder) add(typ byte, data []byte) *Builder {
	if b.err != nil {
		return b
	}
	if len(b.buf)+2+len(data) > MaxLegacy {
		b.err = errors.Errorf("adv: type 0x%02x does not fit (%d+%d bytes)", typ, len(b.buf), 2+len(data))
		return b
	}
	b.buf = append(b.buf, byte(len(data)+1), typ)
	b.buf = append(b.buf, data...)
	return b
}

// Flags adds the flags structure.
func (b *Builder) Flags(f byte) *Builder { return b.add(TypeFlags, []byte{f}) }

// Services16 adds a list of 16-bit service UUIDs.
func (b *Builder) Services16(complete bool, ids ...uint16) *Builder {
	data := make([]byte, 0, 2*len(ids))
	for _, id := range ids {
		data = binary.LittleEndian.AppendUint16(data, id)
	}
	typ := TypeIncomplete16
	if complete {
		typ = TypeComplete16
	}
	return b.add(typ, data)
}

// Services128 adds a list of 128-bit service UUIDs.
func (b *Builder) Services128(complete bool, ids ...uuid.UUID) *Builder {
	data := make([]byte, 0, 16*len(ids))
	for _, id := range ids {
		le := LittleEndian(id)
		data = append(data, le[:]...)
	}
	typ := TypeIncomplete128
	if complete {
		typ = TypeComplete128
	}
	return b.add(typ, data)
}

// Name adds the local name.
func (b *Builder) Name(name string, complete bool) *Builder {
	typ := TypeShortName
	if complete {
		typ = TypeCompleteName
	}
	return b.add(typ, []byte(name))
}

// Manufacturer adds manufacturer specific data prefixed with the company id.
func (b *Builder) Manufacturer(company uint16, data []byte) *Builder {
	p := binary.LittleEndian.AppendUint16(make([]byte, 0, 2+len(data)), company)
	return b.add(TypeManufacturerData, append(p, data...))
}

// Optional applies fn and drops whatever it added if that did not fit,
// leaving the builder as it was.
func (b *Builder) Optional(fn func(*Builder)) *Builder {
	if b.err != nil {
		return b
	}
	n := len(b.buf)
	fn(b)
	if b.err != nil {
		b.buf, b.err = b.buf[:n], nil
	}
	return b
}

// Bytes returns the payload or the first error.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}

// -----------------------------------------------------------------------------
// Walk
// -----------------------------------------------------------------------------

// Entry is one AD structure. Data aliases the walked payload.
type Entry struct {
	Type byte
	Data []byte
}

// Walk calls fn for each well-formed entry in order until fn returns false.
// A zero length byte or an entry running past the end stops the walk.
func Walk(payload []byte, fn func(Entry) bool) {
	for len(payload) > 0 {
		n := int(payload[0])
		if n == 0 || n+1 > len(payload) {
			return
		}
		e := Entry{Type: payload[1], Data: payload[2 : n+1]}
		if !fn(e) {
			return
		}
		payload = payload[n+1:]
	}
}

// Find returns the first entry of the given type.
func Find(payload []byte, typ byte) (Entry, bool) {
	var out Entry
	var ok bool
	Walk(payload, func(e Entry) bool {
		if e.Type == typ {
			out, ok = e, true
			return false
		}
		return true
	})
	return out, ok
}

// Name returns the complete or shortened local name, if present.
func Name(payload []byte) string {
	if e, ok := Find(payload, TypeCompleteName); ok {
		return string(e.Data)
	}
	if e, ok := Find(payload, TypeShortName); ok {
		return string(e.Data)
	}
	return ""
}
