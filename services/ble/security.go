package ble

import (
	"github.com/sirupsen/logrus"

	"blecopter-go/x/logx"
)

// Bonder accepts every bonding request.
type Bonder struct {
	log logrus.FieldLogger
}

func NewBonder(l logrus.FieldLogger) *Bonder {
	return &Bonder{log: logx.Service(l, "ble.security")}
}

func (b *Bonder) CanBond(Address) bool { return true }

func (b *Bonder) OnBonded(peer Address) {
	b.log.WithField("peer", peer).Info("bonded")
}
