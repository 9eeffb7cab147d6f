package ble

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Address identifies a remote device in the radio stack's own notation.
type Address string

// ErrPeerKeysNotFound is returned by Link.Encrypt when no bond exists yet.
var ErrPeerKeysNotFound = errors.New("peer keys not found")

// ErrNotSubscribed is returned by HostConn.Notify when the host has not
// enabled notifications on the characteristic.
var ErrNotSubscribed = errors.New("host not subscribed")

// -----------------------------------------------------------------------------
// Central side
// -----------------------------------------------------------------------------

// ScanReport is one received advertisement.
type ScanReport struct {
	Address Address
	RSSI    int16
	Payload []byte
}

// SecurityHandler is consulted by the link layer around bonding.
type SecurityHandler interface {
	CanBond(peer Address) bool
	OnBonded(peer Address)
}

// ConnectParams restricts a connection attempt to the whitelisted peers.
type ConnectParams struct {
	Whitelist []Address
	Security  SecurityHandler
}

// CentralRadio is the central half of the radio stack.
type CentralRadio interface {
	// Scan delivers reports to match until it returns true, and returns that
	// report's address. It returns ctx.Err() when ctx ends first.
	Scan(ctx context.Context, match func(ScanReport) bool) (Address, error)
	Connect(ctx context.Context, p ConnectParams) (Link, error)
}

// Link is an established connection to a peripheral.
type Link interface {
	Peer() Address
	Encrypt(ctx context.Context) error
	RequestPairing(ctx context.Context) error
	DiscoverService(ctx context.Context, id uuid.UUID) (RemoteService, error)
	Disconnect() error
	// Done is closed once the link is gone, whoever dropped it.
	Done() <-chan struct{}
}

type RemoteService interface {
	Characteristic(ctx context.Context, id uuid.UUID) (RemoteCharacteristic, error)
}

type RemoteCharacteristic interface {
	// Subscribe enables notifications; fn runs for every notification.
	Subscribe(ctx context.Context, fn func([]byte)) error
}

// -----------------------------------------------------------------------------
// Peripheral side
// -----------------------------------------------------------------------------

// Advertisement is a connectable undirected advertisement. Data and
// ScanResponse are the encoded payloads; stacks that build their own payload
// use LocalName and Services instead.
type Advertisement struct {
	Data         []byte
	ScanResponse []byte
	LocalName    string
	Services     []uuid.UUID
}

// ServerRadio is the GATT server half of the radio stack.
type ServerRadio interface {
	// Register installs the profile. It is called once.
	Register(p Profile) error
	// Advertise blocks until a host connects or ctx ends.
	Advertise(ctx context.Context, a Advertisement) (HostConn, error)
}

// HostConn is a connection from a host to the local GATT server.
type HostConn interface {
	Peer() Address
	// Events delivers inbound GATT events. Readers also watch Done.
	Events() <-chan GattEvent
	SetValue(h Handle, v []byte) error
	Notify(h Handle, v []byte) error
	Done() <-chan struct{}
	Disconnect() error
}

// GattEvent is one of WriteEvent or CCCDEvent.
type GattEvent interface{ gattEvent() }

// WriteEvent is a host write to a characteristic value.
type WriteEvent struct {
	Handle Handle
	Value  []byte
}

// CCCDEvent is a host write to a characteristic's client configuration.
type CCCDEvent struct {
	Handle        Handle
	Notifications bool
}

func (WriteEvent) gattEvent() {}
func (CCCDEvent) gattEvent()  {}
