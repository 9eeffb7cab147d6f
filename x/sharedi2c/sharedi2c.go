// Package sharedi2c lets several drivers share one I2C peripheral.
package sharedi2c

import (
	"sync"

	"tinygo.org/x/drivers"
)

// Bus serialises transactions on the underlying bus. Each Tx holds the lock
// for exactly one transaction.
type Bus struct {
	mu  sync.Mutex
	raw drivers.I2C
}

func New(raw drivers.I2C) *Bus {
	return &Bus{raw: raw}
}

// Device returns a drivers.I2C bound to this bus. It is cheap to copy.
func (b *Bus) Device() Device {
	return Device{b: b}
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw.Tx(addr, w, r)
}

// Device adapts a shared Bus to the tinygo driver Tx shape.
type Device struct {
	b *Bus
}

func (d Device) Tx(addr uint16, w, r []byte) error {
	return d.b.Tx(addr, w, r)
}

var (
	_ drivers.I2C = (*Bus)(nil)
	_ drivers.I2C = Device{}
)
