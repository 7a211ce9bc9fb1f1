package addrdb

import (
	"net"
)

// Client is the record kept for one unique DUID: the identity
// associations of each kind granted to that client, plus the optional
// reconfigure key and security-parameter index used by the auth layer.
type Client struct {
	duid           DUID
	spi            uint32
	reconfigureKey []byte
	ias            []*IA
	tas            []*IA
	pds            []*IA
}

// NewClient creates an empty record for the given DUID.
func NewClient(duid DUID) *Client {
	return &Client{duid: duid}
}

func (self *Client) DUID() DUID { return self.duid }

func (self *Client) SPI() uint32       { return self.spi }
func (self *Client) SetSPI(spi uint32) { self.spi = spi }

func (self *Client) ReconfigureKey() []byte { return self.reconfigureKey }
func (self *Client) SetReconfigureKey(key []byte) {
	self.reconfigureKey = append([]byte(nil), key...)
}

func (self *Client) containers(kind Kind) *[]*IA {
	switch kind {
	case KindTA:
		return &self.tas
	case KindPD:
		return &self.pds
	default:
		return &self.ias
	}
}

// AddContainer attaches an identity association of its own kind.
// The IAID must be unique within this client for that kind.
func (self *Client) AddContainer(ia *IA) error {
	if self.FindContainer(ia.Kind(), ia.IAID()) != nil {
		return ErrDuplicateIA
	}
	list := self.containers(ia.Kind())
	*list = append(*list, ia)
	return nil
}

// FindContainer returns the identity association of the given kind and
// IAID, or nil when the client does not own one.
func (self *Client) FindContainer(kind Kind, iaid uint32) *IA {
	for _, ia := range *self.containers(kind) {
		if ia.IAID() == iaid {
			return ia
		}
	}
	return nil
}

// DeleteContainer removes the identity association of the given kind
// and IAID and reports whether it was present.
func (self *Client) DeleteContainer(kind Kind, iaid uint32) bool {
	list := self.containers(kind)
	for i, ia := range *list {
		if ia.IAID() == iaid {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// IAs returns a snapshot of the non-temporary address containers.
func (self *Client) IAs() []*IA { return snapshot(self.ias) }

// TAs returns a snapshot of the temporary address containers.
func (self *Client) TAs() []*IA { return snapshot(self.tas) }

// PDs returns a snapshot of the delegated prefix containers.
func (self *Client) PDs() []*IA { return snapshot(self.pds) }

// Containers returns a snapshot of every identity association owned by
// this client, across all three kinds.
func (self *Client) Containers() []*IA {
	out := make([]*IA, 0, len(self.ias)+len(self.tas)+len(self.pds))
	out = append(out, self.ias...)
	out = append(out, self.tas...)
	out = append(out, self.pds...)
	return out
}

func (self *Client) CountIA() int { return len(self.ias) }
func (self *Client) CountTA() int { return len(self.tas) }
func (self *Client) CountPD() int { return len(self.pds) }

// Empty reports whether the client owns no containers of any kind.
func (self *Client) Empty() bool {
	return len(self.ias) == 0 && len(self.tas) == 0 && len(self.pds) == 0
}

// HasLease reports whether any container of any kind holds the given
// address or prefix value.
func (self *Client) HasLease(addr net.IP) bool {
	for _, ia := range self.Containers() {
		if ia.FindLease(addr) != nil {
			return true
		}
	}
	return false
}

// T1Timeout returns the smallest remaining renew timer across the
// containers that carry one (IA and PD kinds).
func (self *Client) T1Timeout() uint32 {
	min := Infinity
	for _, ia := range self.ias {
		if t := ia.T1Timeout(); t < min {
			min = t
		}
	}
	for _, pd := range self.pds {
		if t := pd.T1Timeout(); t < min {
			min = t
		}
	}
	return min
}

// T2Timeout returns the smallest remaining rebind timer across the
// containers that carry one (IA and PD kinds).
func (self *Client) T2Timeout() uint32 {
	min := Infinity
	for _, ia := range self.ias {
		if t := ia.T2Timeout(); t < min {
			min = t
		}
	}
	for _, pd := range self.pds {
		if t := pd.T2Timeout(); t < min {
			min = t
		}
	}
	return min
}

// PrefTimeout returns the smallest remaining preferred lifetime across
// every lease of every container.
func (self *Client) PrefTimeout() uint32 {
	min := Infinity
	for _, ia := range self.Containers() {
		if t := ia.PrefTimeout(); t < min {
			min = t
		}
	}
	return min
}

// ValidTimeout returns the smallest remaining valid lifetime across
// every lease of every container.
func (self *Client) ValidTimeout() uint32 {
	min := Infinity
	for _, ia := range self.Containers() {
		if t := ia.ValidTimeout(); t < min {
			min = t
		}
	}
	return min
}

func snapshot(list []*IA) []*IA {
	out := make([]*IA, len(list))
	copy(out, list)
	return out
}
