package simradio

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"blecopter-go/services/ble"
)

// -----------------------------------------------------------------------------
// Peripheral side
// -----------------------------------------------------------------------------

// FailRegister makes Register return err.
func (r *Radio) FailRegister(err error) {
	r.mu.Lock()
	r.registerErr = err
	r.mu.Unlock()
}

// FailAdvertise makes the next len(errs) advertise calls fail.
func (r *Radio) FailAdvertise(errs ...error) {
	r.mu.Lock()
	r.advFailures = append(r.advFailures, errs...)
	r.mu.Unlock()
}

// Profile returns the registered profile, if any.
func (r *Radio) Profile() (ble.Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return ble.Profile{}, false
	}
	return *r.profile, true
}

// Adverts returns every advertisement started so far.
func (r *Radio) Adverts() []ble.Advertisement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ble.Advertisement(nil), r.adverts...)
}

func (r *Radio) Register(p ble.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	if r.profile != nil {
		return errors.New("simradio: profile already registered")
	}
	r.profile = &p
	return nil
}

func (r *Radio) Advertise(ctx context.Context, a ble.Advertisement) (ble.HostConn, error) {
	r.mu.Lock()
	r.adverts = append(r.adverts, a)
	if len(r.advFailures) > 0 {
		err := r.advFailures[0]
		r.advFailures = r.advFailures[1:]
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case h := <-r.hosts:
		return h, nil
	}
}

// ConnectHost queues a host that the next advertisement accepts.
func (r *Radio) ConnectHost() *Host {
	r.mu.Lock()
	r.nextHostAddr++
	var profile ble.Profile
	if r.profile != nil {
		profile = *r.profile
	}
	h := &Host{
		addr:       ble.Address(fmt.Sprintf("host-%d", r.nextHostAddr)),
		profile:    profile,
		events:     make(chan ble.GattEvent, 16),
		done:       make(chan struct{}),
		values:     make(map[ble.Handle][]byte),
		subscribed: make(map[ble.Handle]bool),
		notes:      make(chan Notification, 256),
	}
	r.mu.Unlock()
	r.hosts <- h
	return h
}

// Notification is one value pushed to a host.
type Notification struct {
	Handle ble.Handle
	Value  []byte
}

// Host is a simulated host companion. The firmware side sees it as a
// ble.HostConn.
type Host struct {
	addr    ble.Address
	profile ble.Profile
	events  chan ble.GattEvent
	done    chan struct{}
	once    sync.Once

	mu         sync.Mutex
	values     map[ble.Handle][]byte
	subscribed map[ble.Handle]bool
	notes      chan Notification
	failNotify error
}

// Write delivers a characteristic write. It reports false once the
// connection is gone.
func (h *Host) Write(handle ble.Handle, v []byte) bool {
	return h.send(ble.WriteEvent{Handle: handle, Value: append([]byte(nil), v...)})
}

// Subscribe writes the characteristic's CCCD.
func (h *Host) Subscribe(handle ble.Handle, on bool) bool {
	h.mu.Lock()
	h.subscribed[handle] = on
	h.mu.Unlock()
	return h.send(ble.CCCDEvent{Handle: handle, Notifications: on})
}

func (h *Host) send(ev ble.GattEvent) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Notifications delivers values the firmware notified.
func (h *Host) Notifications() <-chan Notification { return h.notes }

// Value returns the last value the firmware set on a characteristic.
func (h *Host) Value(handle ble.Handle) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[handle]
	return v, ok
}

// FailNotify makes every following notification fail with err.
func (h *Host) FailNotify(err error) {
	h.mu.Lock()
	h.failNotify = err
	h.mu.Unlock()
}

// Leave disconnects from the host's side.
func (h *Host) Leave() { h.Disconnect() }

// Connected reports whether the connection is still up.
func (h *Host) Connected() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ble.HostConn

func (h *Host) Peer() ble.Address            { return h.addr }
func (h *Host) Events() <-chan ble.GattEvent { return h.events }
func (h *Host) Done() <-chan struct{}        { return h.done }

func (h *Host) SetValue(handle ble.Handle, v []byte) error {
	if _, ok := h.profile.Lookup(handle); !ok && len(h.profile.Services) > 0 {
		return errors.Errorf("simradio: no characteristic %s", handle)
	}
	h.mu.Lock()
	h.values[handle] = append([]byte(nil), v...)
	h.mu.Unlock()
	return nil
}

func (h *Host) Notify(handle ble.Handle, v []byte) error {
	h.mu.Lock()
	sub, fail := h.subscribed[handle], h.failNotify
	h.mu.Unlock()
	switch {
	case !h.Connected():
		return errors.New("simradio: disconnected")
	case fail != nil:
		return fail
	case !sub:
		return ble.ErrNotSubscribed
	}
	select {
	case h.notes <- Notification{Handle: handle, Value: append([]byte(nil), v...)}:
	default:
	}
	return nil
}

func (h *Host) Disconnect() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

var (
	_ ble.CentralRadio = (*Radio)(nil)
	_ ble.ServerRadio  = (*Radio)(nil)
	_ ble.HostConn     = (*Host)(nil)
)
