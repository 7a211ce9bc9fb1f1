package lease

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Infinity is the sentinel lifetime/timeout value meaning "never expires".
const Infinity uint32 = 0xffffffff

// Lease represents a single leased IPv6 address or delegated prefix.
// This struct is shared between the manager and the store.
type Lease struct {
	Addr              net.IP
	PreferredLifetime uint32
	ValidLifetime     uint32
	// Timestamp holds the unix time of the grant or last refresh.
	// Remaining timeouts are computed relative to it.
	Timestamp int64
	PrefixLen int
}

// New creates a lease with the timestamp set to now.
func New(addr net.IP, pref, valid uint32, prefixLen int) *Lease {
	return &Lease{
		Addr:              addr,
		PreferredLifetime: pref,
		ValidLifetime:     valid,
		Timestamp:         time.Now().Unix(),
		PrefixLen:         prefixLen,
	}
}

// Refresh updates the lifetimes and moves the timestamp to now,
// as happens on a successful renew/rebind exchange.
func (self *Lease) Refresh(pref, valid uint32) {
	self.PreferredLifetime = pref
	self.ValidLifetime = valid
	self.Timestamp = time.Now().Unix()
}

// PrefTimeout returns the number of seconds until the preferred
// lifetime expires, or 0 if it already has.
func (self *Lease) PrefTimeout() uint32 {
	return remaining(self.Timestamp, self.PreferredLifetime)
}

// ValidTimeout returns the number of seconds until the valid
// lifetime expires, or 0 if it already has.
func (self *Lease) ValidTimeout() uint32 {
	return remaining(self.Timestamp, self.ValidLifetime)
}

func remaining(timestamp int64, lifetime uint32) uint32 {
	if lifetime == Infinity {
		return Infinity
	}
	expires := timestamp + int64(lifetime)
	now := time.Now().Unix()
	if expires <= now {
		return 0
	}
	return uint32(expires - now)
}

// Prefix returns the lease as a netip.Prefix.
func (self *Lease) Prefix() (netip.Prefix, error) {
	return netip.ParsePrefix(self.String())
}

func (self *Lease) String() string {
	if self.Addr == nil {
		return ""
	}
	return fmt.Sprintf("%s/%d", self.Addr, self.PrefixLen)
}
