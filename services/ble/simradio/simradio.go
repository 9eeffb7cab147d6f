// Package simradio is an in-memory radio. It plays the controller and the
// host companion for tests and for the host simulator.
package simradio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"blecopter-go/drivers/xbox"
	"blecopter-go/services/ble"
	"blecopter-go/services/ble/adv"
)

var (
	ErrNotFound  = errors.New("simradio: not found")
	ErrWhitelist = errors.New("simradio: whitelist must name exactly one peer")
)

// Radio implements ble.CentralRadio and ble.ServerRadio.
type Radio struct {
	// ScanInterval is the pause between two passes over the peers.
	ScanInterval time.Duration

	mu           sync.Mutex
	peers        []*Peer
	scanFailures []error
	scans        int
	connects     []ble.ConnectParams

	registerErr  error
	profile      *ble.Profile
	advFailures  []error
	adverts      []ble.Advertisement
	hosts        chan *Host
	nextHostAddr int
}

func New() *Radio {
	return &Radio{
		ScanInterval: 5 * time.Millisecond,
		hosts:        make(chan *Host, 8),
	}
}

// -----------------------------------------------------------------------------
// Central side
// -----------------------------------------------------------------------------

// AddPeer makes p visible to scans.
func (r *Radio) AddPeer(p *Peer) {
	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()
}

// RemovePeer hides the peer at addr from scans and connects, as if it went
// out of range. An open link stays up until dropped.
func (r *Radio) RemovePeer(addr ble.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.peers {
		if p.Address == addr {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return
		}
	}
}

// FailScans makes the next len(errs) scan calls fail with errs in order.
func (r *Radio) FailScans(errs ...error) {
	r.mu.Lock()
	r.scanFailures = append(r.scanFailures, errs...)
	r.mu.Unlock()
}

// Scans returns how many scan calls were made.
func (r *Radio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

// Connects returns the parameters of every connection attempt.
func (r *Radio) Connects() []ble.ConnectParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ble.ConnectParams(nil), r.connects...)
}

func (r *Radio) Scan(ctx context.Context, match func(ble.ScanReport) bool) (ble.Address, error) {
	r.mu.Lock()
	r.scans++
	if len(r.scanFailures) > 0 {
		err := r.scanFailures[0]
		r.scanFailures = r.scanFailures[1:]
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	t := time.NewTicker(r.ScanInterval)
	defer t.Stop()
	for {
		r.mu.Lock()
		peers := append([]*Peer(nil), r.peers...)
		r.mu.Unlock()

		for _, p := range peers {
			if match(ble.ScanReport{Address: p.Address, RSSI: p.RSSI, Payload: p.Payload}) {
				return p.Address, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Radio) Connect(ctx context.Context, params ble.ConnectParams) (ble.Link, error) {
	r.mu.Lock()
	r.connects = append(r.connects, params)
	var peer *Peer
	if len(params.Whitelist) == 1 {
		for _, p := range r.peers {
			if p.Address == params.Whitelist[0] {
				peer = p
			}
		}
	}
	r.mu.Unlock()

	switch {
	case len(params.Whitelist) != 1:
		return nil, ErrWhitelist
	case peer == nil:
		return nil, errors.Wrapf(ErrNotFound, "peer %s", params.Whitelist[0])
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	return peer.attach(params.Security)
}

// Peer is a simulated controller.
type Peer struct {
	Address ble.Address
	RSSI    int16
	Payload []byte

	Bonded       bool  // Encrypt succeeds without pairing
	ConnectErr   error // returned by Connect
	EncryptErr   error // returned by Encrypt, overrides Bonded
	PairErr      error // returned by RequestPairing
	NoHID        bool  // HID service discovery fails
	SubscribeErr error // returned when enabling notifications

	mu       sync.Mutex
	link     *link
	attaches int
	pairings int
}

// NewController returns a peer advertising like an Xbox Wireless controller.
func NewController(addr ble.Address) *Peer {
	var b adv.Builder
	p, err := b.Flags(adv.FlagLEGeneralDiscoverable|adv.FlagBREDRNotSupported).
		Services16(true, xbox.HIDService).
		Manufacturer(xbox.MicrosoftID, []byte{0x03, 0x00}).
		Bytes()
	if err != nil {
		panic(err)
	}
	return &Peer{Address: addr, RSSI: -50, Payload: p}
}

func (p *Peer) attach(sec ble.SecurityHandler) (ble.Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	l := &link{peer: p, sec: sec, done: make(chan struct{})}
	p.link = l
	p.attaches++
	return l, nil
}

// Connected reports whether a link to the peer is up.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link != nil
}

// Attaches counts successful connections.
func (p *Peer) Attaches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attaches
}

// Pairings counts successful pairing requests.
func (p *Peer) Pairings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pairings
}

// SendReport notifies the subscribed central. It reports whether anyone
// was subscribed.
func (p *Peer) SendReport(report []byte) bool {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l == nil {
		return false
	}
	fn := l.subscriber()
	if fn == nil {
		return false
	}
	fn(append([]byte(nil), report...))
	return true
}

// Subscribed reports whether the central enabled report notifications.
func (p *Peer) Subscribed() bool {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	return l != nil && l.subscriber() != nil
}

// Drop ends the link from the peer's side.
func (p *Peer) Drop() {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l != nil {
		l.Disconnect()
	}
}

type link struct {
	peer *Peer
	sec  ble.SecurityHandler
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	sub func([]byte)
}

func (l *link) Peer() ble.Address { return l.peer.Address }

func (l *link) Encrypt(ctx context.Context) error {
	l.peer.mu.Lock()
	defer l.peer.mu.Unlock()
	switch {
	case l.peer.EncryptErr != nil:
		return l.peer.EncryptErr
	case !l.peer.Bonded:
		return ble.ErrPeerKeysNotFound
	}
	return nil
}

func (l *link) RequestPairing(ctx context.Context) error {
	l.peer.mu.Lock()
	if l.peer.PairErr != nil {
		err := l.peer.PairErr
		l.peer.mu.Unlock()
		return err
	}
	l.peer.pairings++
	bond := l.sec == nil || l.sec.CanBond(l.peer.Address)
	if bond {
		l.peer.Bonded = true
	}
	l.peer.mu.Unlock()

	if bond && l.sec != nil {
		l.sec.OnBonded(l.peer.Address)
	}
	return nil
}

func (l *link) DiscoverService(ctx context.Context, id uuid.UUID) (ble.RemoteService, error) {
	l.peer.mu.Lock()
	noHID := l.peer.NoHID
	l.peer.mu.Unlock()
	if noHID || id != adv.UUID16(xbox.HIDService) {
		return nil, errors.Wrapf(ErrNotFound, "service %s", id)
	}
	return hidService{l}, nil
}

func (l *link) Disconnect() error {
	l.once.Do(func() {
		close(l.done)
		l.peer.mu.Lock()
		if l.peer.link == l {
			l.peer.link = nil
		}
		l.peer.mu.Unlock()
	})
	return nil
}

func (l *link) Done() <-chan struct{} { return l.done }

func (l *link) subscriber() func([]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sub
}

type hidService struct{ l *link }

func (s hidService) Characteristic(ctx context.Context, id uuid.UUID) (ble.RemoteCharacteristic, error) {
	if id != adv.UUID16(xbox.HIDReport) {
		return nil, errors.Wrapf(ErrNotFound, "characteristic %s", id)
	}
	return reportChar{s.l}, nil
}

type reportChar struct{ l *link }

func (c reportChar) Subscribe(ctx context.Context, fn func([]byte)) error {
	c.l.peer.mu.Lock()
	err := c.l.peer.SubscribeErr
	c.l.peer.mu.Unlock()
	if err != nil {
		return err
	}
	c.l.mu.Lock()
	c.l.sub = fn
	c.l.mu.Unlock()
	return nil
}
