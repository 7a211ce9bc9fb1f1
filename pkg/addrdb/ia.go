package addrdb

import (
	"net"
	"time"

	"github.com/mkowalik/leasedb/pkg/addrdb/lease"
)

// Kind distinguishes the three identity-association flavours of DHCPv6.
type Kind int

const (
	// KindIA groups non-temporary addresses.
	KindIA Kind = iota
	// KindTA groups temporary addresses.
	KindTA
	// KindPD groups delegated prefixes.
	KindPD
)

func (self Kind) String() string {
	switch self {
	case KindIA:
		return "IA"
	case KindTA:
		return "TA"
	case KindPD:
		return "PD"
	}
	return "unknown"
}

// State is the validity state of an identity association.
type State int

const (
	// StateNotConfigured is the zero state of a freshly built container.
	StateNotConfigured State = iota
	// StateConfigured marks a binding granted during this run.
	StateConfigured
	// StateConfirmed marks a binding re-confirmed with the server.
	StateConfirmed
	// StateTentative marks a binding restored from disk that must be
	// re-confirmed with the server before use.
	StateTentative
)

func (self State) String() string {
	switch self {
	case StateNotConfigured:
		return "not-configured"
	case StateConfigured:
		return "configured"
	case StateConfirmed:
		return "confirmed"
	case StateTentative:
		return "tentative"
	}
	return "unknown"
}

// IA is one identity association: a group of leases of a single kind,
// bound to one client on one interface, sharing T1/T2 renewal timers.
//
// Both the interface name and the numeric index are stored; the index
// is not stable across reboots, so reconciliation against the live
// environment happens via AddrDB.UpdateInterfacesInfo after load.
type IA struct {
	kind       Kind
	iaid       uint32
	t1         uint32
	t2         uint32
	ifaceName  string
	ifaceIndex int
	clientAddr net.IP
	unicast    net.IP
	state      State
	timestamp  int64
	fqdn       *FQDN
	fqdnDNS    net.IP
	leases     []*lease.Lease
}

// NewIA creates an empty identity association with the timestamp set to now.
func NewIA(kind Kind, ifaceName string, ifaceIndex int, iaid, t1, t2 uint32) *IA {
	return &IA{
		kind:       kind,
		iaid:       iaid,
		t1:         t1,
		t2:         t2,
		ifaceName:  ifaceName,
		ifaceIndex: ifaceIndex,
		timestamp:  time.Now().Unix(),
	}
}

func (self *IA) Kind() Kind     { return self.kind }
func (self *IA) IAID() uint32   { return self.iaid }
func (self *IA) T1() uint32     { return self.t1 }
func (self *IA) T2() uint32     { return self.t2 }
func (self *IA) SetT1(t uint32) { self.t1 = t }
func (self *IA) SetT2(t uint32) { self.t2 = t }

func (self *IA) IfaceName() string        { return self.ifaceName }
func (self *IA) SetIfaceName(name string) { self.ifaceName = name }
func (self *IA) IfaceIndex() int          { return self.ifaceIndex }
func (self *IA) SetIfaceIndex(index int)  { self.ifaceIndex = index }

func (self *IA) ClientAddr() net.IP        { return self.clientAddr }
func (self *IA) SetClientAddr(addr net.IP) { self.clientAddr = copyIP(addr) }

func (self *IA) Unicast() net.IP        { return self.unicast }
func (self *IA) SetUnicast(addr net.IP) { self.unicast = copyIP(addr) }

func (self *IA) State() State         { return self.state }
func (self *IA) SetState(state State) { self.state = state }

func (self *IA) Timestamp() int64      { return self.timestamp }
func (self *IA) SetTimestamp(ts int64) { self.timestamp = ts }

// RefreshTimestamp moves the T1/T2 reference point to now, as happens
// when the server acknowledges a renew.
func (self *IA) RefreshTimestamp() { self.timestamp = time.Now().Unix() }

func (self *IA) FQDN() *FQDN         { return self.fqdn }
func (self *IA) SetFQDN(fqdn *FQDN)  { self.fqdn = fqdn }
func (self *IA) FQDNDns() net.IP     { return self.fqdnDNS }
func (self *IA) SetFQDNDns(a net.IP) { self.fqdnDNS = copyIP(a) }

// Leases returns a snapshot of the owned leases. Mutating the slice
// does not affect the container; the lease pointers are shared.
func (self *IA) Leases() []*lease.Lease {
	out := make([]*lease.Lease, len(self.leases))
	copy(out, self.leases)
	return out
}

func (self *IA) CountLeases() int { return len(self.leases) }

// FindLease returns the lease holding the given address/prefix value,
// or nil if the container does not hold it.
func (self *IA) FindLease(addr net.IP) *lease.Lease {
	for _, l := range self.leases {
		if l.Addr.Equal(addr) {
			return l
		}
	}
	return nil
}

// AddLease appends a lease. No two leases in one container may carry
// the same address value.
func (self *IA) AddLease(l *lease.Lease) error {
	if self.FindLease(l.Addr) != nil {
		return ErrDuplicateLease
	}
	self.leases = append(self.leases, l)
	return nil
}

// DeleteLease removes the lease with the given address value and
// reports whether it was present.
func (self *IA) DeleteLease(addr net.IP) bool {
	for i, l := range self.leases {
		if l.Addr.Equal(addr) {
			self.leases = append(self.leases[:i], self.leases[i+1:]...)
			return true
		}
	}
	return false
}

// T1Timeout returns the seconds left until the renew timer fires.
func (self *IA) T1Timeout() uint32 {
	return remainingTimeout(self.timestamp, self.t1)
}

// T2Timeout returns the seconds left until the rebind timer fires.
func (self *IA) T2Timeout() uint32 {
	return remainingTimeout(self.timestamp, self.t2)
}

// PrefTimeout returns the smallest remaining preferred lifetime among
// the owned leases, or Infinity for an empty container.
func (self *IA) PrefTimeout() uint32 {
	min := Infinity
	for _, l := range self.leases {
		if t := l.PrefTimeout(); t < min {
			min = t
		}
	}
	return min
}

// ValidTimeout returns the smallest remaining valid lifetime among
// the owned leases, or Infinity for an empty container.
func (self *IA) ValidTimeout() uint32 {
	min := Infinity
	for _, l := range self.leases {
		if t := l.ValidTimeout(); t < min {
			min = t
		}
	}
	return min
}

func remainingTimeout(timestamp int64, lifetime uint32) uint32 {
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
