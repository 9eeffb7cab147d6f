package tinygoradio

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"blecopter-go/services/ble"
)

// -----------------------------------------------------------------------------
// Peripheral side
// -----------------------------------------------------------------------------

func flagsOf(p ble.Props) bluetooth.CharacteristicPermissions {
	var f bluetooth.CharacteristicPermissions
	if p.Has(ble.PropRead) {
		f |= bluetooth.CharacteristicReadPermission
	}
	if p.Has(ble.PropWrite) {
		f |= bluetooth.CharacteristicWritePermission
	}
	if p.Has(ble.PropNotify) {
		f |= bluetooth.CharacteristicNotifyPermission
	}
	return f
}

func (r *Radio) Register(p ble.Profile) error {
	r.mu.Lock()
	if r.registered {
		r.mu.Unlock()
		return errors.New("profile already registered")
	}
	r.registered = true
	r.mu.Unlock()

	for _, s := range p.Services {
		cfgs := make([]bluetooth.CharacteristicConfig, 0, len(s.Characteristics))
		for _, c := range s.Characteristics {
			h := c.Handle
			handle := new(bluetooth.Characteristic)
			cfg := bluetooth.CharacteristicConfig{
				Handle: handle,
				UUID:   toUUID(c.UUID),
				Value:  make([]byte, c.Size),
				Flags:  flagsOf(c.Props),
			}
			if c.Props.Has(ble.PropWrite) {
				cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
					r.deliver(ble.WriteEvent{Handle: h, Value: append([]byte(nil), value...)})
				}
			}
			cfgs = append(cfgs, cfg)

			r.mu.Lock()
			r.chars[h] = handle
			r.mu.Unlock()
		}
		err := r.adapter.AddService(&bluetooth.Service{
			UUID:            toUUID(s.UUID),
			Characteristics: cfgs,
		})
		if err != nil {
			return errors.Wrapf(err, "add service %s", s.UUID)
		}
	}
	return nil
}

// deliver hands a write to the connected host. Writes arriving with no
// host attached, or faster than the dispatcher drains them, are dropped.
func (r *Radio) deliver(ev ble.GattEvent) {
	r.mu.Lock()
	h := r.host
	r.mu.Unlock()
	if h == nil {
		return
	}
	select {
	case h.events <- ev:
	case <-h.done:
	default:
	}
}

func (r *Radio) Advertise(ctx context.Context, a ble.Advertisement) (ble.HostConn, error) {
	services := make([]bluetooth.UUID, 0, len(a.Services))
	for _, s := range a.Services {
		services = append(services, toUUID(s))
	}
	ad := r.adapter.DefaultAdvertisement()
	err := ad.Configure(bluetooth.AdvertisementOptions{
		LocalName:    a.LocalName,
		ServiceUUIDs: services,
	})
	if err != nil {
		return nil, errors.Wrap(err, "configure advertisement")
	}
	if err := ad.Start(); err != nil {
		return nil, errors.Wrap(err, "start advertisement")
	}

	select {
	case <-ctx.Done():
		ad.Stop()
		return nil, ctx.Err()
	case h := <-r.hosts:
		// The stack stops advertising on connect; stopping again is harmless.
		ad.Stop()
		return h, nil
	}
}

type hostConn struct {
	r      *Radio
	device bluetooth.Device
	addr   ble.Address
	events chan ble.GattEvent
	done   chan struct{}
	once   sync.Once
}

func (h *hostConn) Peer() ble.Address            { return h.addr }
func (h *hostConn) Events() <-chan ble.GattEvent { return h.events }
func (h *hostConn) Done() <-chan struct{}        { return h.done }
func (h *hostConn) closeDone()                   { h.once.Do(func() { close(h.done) }) }

// SetValue writes the attribute value. On this stack a write also notifies
// subscribed clients, so Notify has nothing left to do.
func (h *hostConn) SetValue(handle ble.Handle, v []byte) error {
	h.r.mu.Lock()
	c, ok := h.r.chars[handle]
	h.r.mu.Unlock()
	if !ok {
		return errors.Errorf("no characteristic %s", handle)
	}
	_, err := c.Write(v)
	return errors.Wrapf(err, "write %s", handle)
}

func (h *hostConn) Notify(handle ble.Handle, v []byte) error {
	select {
	case <-h.done:
		return errors.New("host disconnected")
	default:
		return nil
	}
}

func (h *hostConn) Disconnect() error {
	err := h.device.Disconnect()
	h.closeDone()
	h.r.mu.Lock()
	if h.r.host == h {
		h.r.host = nil
	}
	h.r.mu.Unlock()
	return errors.Wrap(err, "disconnect host")
}

var (
	_ ble.CentralRadio = (*Radio)(nil)
	_ ble.ServerRadio  = (*Radio)(nil)
)
