// Package tinygoradio runs the central and peripheral roles on
// tinygo.org/x/bluetooth.
package tinygoradio

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"blecopter-go/drivers/xbox"
	"blecopter-go/errcode"
	"blecopter-go/services/ble"
	"blecopter-go/services/ble/adv"
	"blecopter-go/x/panicx"
)

var hidService = adv.UUID16(xbox.HIDService)

// Radio implements ble.CentralRadio and ble.ServerRadio on one adapter.
type Radio struct {
	adapter *bluetooth.Adapter

	mu         sync.Mutex
	connecting ble.Address
	central    *link
	host       *hostConn
	hosts      chan *hostConn
	chars      map[ble.Handle]*bluetooth.Characteristic
	registered bool
}

// New enables the adapter and takes over its connect handler.
func New(a *bluetooth.Adapter) (*Radio, error) {
	if err := a.Enable(); err != nil {
		return nil, errors.Wrap(err, "enable adapter")
	}
	r := &Radio{
		adapter: a,
		hosts:   make(chan *hostConn, 1),
		chars:   make(map[ble.Handle]*bluetooth.Characteristic),
	}
	a.SetConnectHandler(r.onConnect)
	return r, nil
}

// onConnect routes link events: the controller link we opened, or a host
// connecting to the GATT server.
func (r *Radio) onConnect(device bluetooth.Device, connected bool) {
	addr := ble.Address(device.Address.String())

	r.mu.Lock()
	defer r.mu.Unlock()

	if l := r.central; l != nil && l.peer == addr {
		if !connected {
			l.closeDone()
			r.central = nil
		}
		return
	}
	if connected {
		if addr == r.connecting {
			return
		}
		h := &hostConn{
			r:      r,
			device: device,
			addr:   addr,
			events: make(chan ble.GattEvent, 8),
			done:   make(chan struct{}),
		}
		r.host = h
		select {
		case r.hosts <- h:
		default:
			// No advertisement is waiting for it.
			go device.Disconnect()
		}
		return
	}
	if h := r.host; h != nil && h.addr == addr {
		h.closeDone()
		r.host = nil
	}
}

// -----------------------------------------------------------------------------
// Central side
// -----------------------------------------------------------------------------

func (r *Radio) Scan(ctx context.Context, match func(ble.ScanReport) bool) (ble.Address, error) {
	var found ble.Address

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.adapter.StopScan()
		case <-done:
		}
	}()

	err := r.adapter.Scan(func(a *bluetooth.Adapter, res bluetooth.ScanResult) {
		rep := ble.ScanReport{
			Address: ble.Address(res.Address.String()),
			RSSI:    res.RSSI,
			Payload: payloadOf(res),
		}
		if match(rep) {
			found = rep.Address
			a.StopScan()
		}
	})
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", errors.Wrap(err, "scan")
	}
	if found == "" {
		return "", errors.New("scan stopped without a match")
	}
	return found, nil
}

// payloadOf returns the raw AD payload when the stack keeps it. Otherwise
// it rebuilds the fields the stack exposes, so filters work on the same
// bytes on every backend. The name goes last and is left out if it does not
// fit; a payload whose filtered fields alone overflow matches nothing.
func payloadOf(res bluetooth.ScanResult) []byte {
	if raw := res.Bytes(); raw != nil {
		return append([]byte(nil), raw...)
	}
	var b adv.Builder
	for _, m := range res.ManufacturerData() {
		b.Manufacturer(m.CompanyID, m.Data)
	}
	if res.HasServiceUUID(toUUID(hidService)) {
		b.Services16(false, xbox.HIDService)
	}
	if name := res.LocalName(); name != "" {
		b.Optional(func(b *adv.Builder) { b.Name(name, true) })
	}
	p, err := b.Bytes()
	if err != nil {
		return nil
	}
	return p
}

func (r *Radio) Connect(ctx context.Context, params ble.ConnectParams) (ble.Link, error) {
	if len(params.Whitelist) != 1 {
		return nil, errors.New("connect: whitelist must name exactly one peer")
	}
	peer := params.Whitelist[0]

	var addr bluetooth.Address
	addr.Set(string(peer))

	r.mu.Lock()
	r.connecting = peer
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.connecting = ""
		r.mu.Unlock()
	}()

	type result struct {
		device bluetooth.Device
		err    error
	}
	var box panicx.Box
	ch := make(chan result, 1)
	go func() {
		var res result
		if box.Run(func() { res.device, res.err = r.adapter.Connect(addr, bluetooth.ConnectionParams{}) }) {
			res.err = errors.New("connect panicked")
		}
		ch <- res
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				res.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		box.Rethrow()
		if res.err != nil {
			return nil, errors.Wrapf(res.err, "connect to %s", peer)
		}
		l := &link{device: res.device, peer: peer, done: make(chan struct{})}
		r.mu.Lock()
		r.central = l
		r.mu.Unlock()
		return l, nil
	}
}

type link struct {
	device bluetooth.Device
	peer   ble.Address
	done   chan struct{}
	once   sync.Once
}

func (l *link) Peer() ble.Address { return l.peer }

// Encrypt is a no-op: this stack negotiates security itself when a
// protected attribute is first accessed, using its stored bonds.
func (l *link) Encrypt(ctx context.Context) error { return nil }

func (l *link) RequestPairing(ctx context.Context) error {
	return errcode.Unsupported
}

func (l *link) DiscoverService(ctx context.Context, id uuid.UUID) (ble.RemoteService, error) {
	svcs, err := l.device.DiscoverServices([]bluetooth.UUID{toUUID(id)})
	if err != nil {
		return nil, errors.Wrap(err, "discover services")
	}
	if len(svcs) == 0 {
		return nil, errors.Errorf("service %s not found", id)
	}
	return &service{svc: svcs[0]}, nil
}

func (l *link) Disconnect() error {
	err := l.device.Disconnect()
	l.closeDone()
	return errors.Wrap(err, "disconnect")
}

func (l *link) Done() <-chan struct{} { return l.done }

func (l *link) closeDone() { l.once.Do(func() { close(l.done) }) }

type service struct {
	svc bluetooth.DeviceService
}

func (s *service) Characteristic(ctx context.Context, id uuid.UUID) (ble.RemoteCharacteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{toUUID(id)})
	if err != nil {
		return nil, errors.Wrap(err, "discover characteristics")
	}
	if len(chars) == 0 {
		return nil, errors.Errorf("characteristic %s not found", id)
	}
	return &characteristic{c: chars[0]}, nil
}

type characteristic struct {
	c bluetooth.DeviceCharacteristic
}

func (c *characteristic) Subscribe(ctx context.Context, fn func([]byte)) error {
	err := c.c.EnableNotifications(func(buf []byte) {
		fn(append([]byte(nil), buf...))
	})
	return errors.Wrap(err, "enable notifications")
}

// toUUID converts between the two UUID types. The canonical string form
// always parses.
func toUUID(u uuid.UUID) bluetooth.UUID {
	id, _ := bluetooth.ParseUUID(u.String())
	return id
}
