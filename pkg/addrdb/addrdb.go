// Package addrdb implements the lease database of a DHCPv6 participant:
// which addresses, temporary addresses and delegated prefixes are bound
// to which clients, persisted across restarts through a pluggable store.
//
// The database assumes exclusive ownership by a single control
// goroutine; no operation suspends or spawns concurrent work.
package addrdb

import (
	"errors"
	"io/fs"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/mkowalik/leasedb/pkg/addrdb/lease"
)

// Infinity is the sentinel timer value returned when no container
// constrains the next wake-up.
const Infinity = lease.Infinity

var (
	ErrClientNotFound = errors.New("client not found in the lease database")
	ErrIANotFound     = errors.New("identity association not found for client")
	ErrLeaseNotFound  = errors.New("lease not found in the identity association")
	ErrDuplicateLease = errors.New("lease already present in the identity association")
	ErrDuplicateIA    = errors.New("identity association with this IAID already present")
	// ErrUnknownInterface means a persisted interface reference cannot be
	// resolved against the live environment. The caller must treat the
	// whole database as untrusted.
	ErrUnknownInterface = errors.New("persisted interface not present in the OS")
)

// Store is the persistence backend of the database. Load reconstructs
// the client hierarchy into db; Save serializes db back out. The file
// format is the store's concern, not the manager's.
type Store interface {
	Load(db *AddrDB) error
	Save(db *AddrDB) error
}

// LeaseValidator is the policy-layer acceptance check applied once per
// lease restored from disk. Leases that fail are dropped, not errors.
type LeaseValidator interface {
	VerifyAddr(addr net.IP) bool
	VerifyPrefix(prefix net.IP) bool
}

// AcceptAll is a LeaseValidator that keeps every restored lease.
type AcceptAll struct{}

func (AcceptAll) VerifyAddr(net.IP) bool   { return true }
func (AcceptAll) VerifyPrefix(net.IP) bool { return true }

// AddrDB is the address manager: the ordered collection of client
// records plus the replay-protection counter and the shutdown flag.
type AddrDB struct {
	clients           []*Client
	replayValue       uint64
	deleteEmptyClient bool
	done              bool
	store             Store
	log               *logrus.Entry
}

// New creates an empty database backed by the given store.
// Empty-client deletion is enabled by default.
func New(store Store) *AddrDB {
	return &AddrDB{
		store:             store,
		deleteEmptyClient: true,
		log:               logrus.WithField("component", "AddrDB"),
	}
}

// SetDeleteEmptyClient configures whether a client record is removed
// once its last container is deleted.
func (self *AddrDB) SetDeleteEmptyClient(enabled bool) {
	self.deleteEmptyClient = enabled
}

// --- client collection -------------------------------------------------

// AddClient appends a client record to the database.
func (self *AddrDB) AddClient(client *Client) {
	self.clients = append(self.clients, client)
}

// Clients returns a snapshot of the client records in insertion order.
func (self *AddrDB) Clients() []*Client {
	out := make([]*Client, len(self.clients))
	copy(out, self.clients)
	return out
}

func (self *AddrDB) CountClients() int { return len(self.clients) }

// ClientByDUID returns the client with the given DUID, or nil.
func (self *AddrDB) ClientByDUID(duid DUID) *Client {
	for _, client := range self.clients {
		if client.DUID().Equal(duid) {
			return client
		}
	}
	return nil
}

// ClientBySPI returns the client with the given security-parameter
// index, or nil.
func (self *AddrDB) ClientBySPI(spi uint32) *Client {
	for _, client := range self.clients {
		if client.SPI() == spi {
			return client
		}
	}
	return nil
}

// ClientByLeasedAddr returns the client holding the given address or
// prefix value in any of its containers, or nil.
func (self *AddrDB) ClientByLeasedAddr(addr net.IP) *Client {
	for _, client := range self.clients {
		if client.HasLease(addr) {
			return client
		}
	}
	return nil
}

// DeleteClient removes the client with the given DUID and reports
// whether it was present.
func (self *AddrDB) DeleteClient(duid DUID) bool {
	for i, client := range self.clients {
		if client.DUID().Equal(duid) {
			self.clients = append(self.clients[:i], self.clients[i+1:]...)
			return true
		}
	}
	return false
}

// --- free/used checks --------------------------------------------------

// PrefixIsFree reports whether no delegated-prefix container in the
// whole database holds the given prefix value. This is an exhaustive
// O(total leases) scan, acceptable at expected lease-table sizes.
func (self *AddrDB) PrefixIsFree(prefix net.IP) bool {
	for _, client := range self.clients {
		for _, pd := range client.PDs() {
			if pd.FindLease(prefix) != nil {
				return false
			}
		}
	}
	return true
}

// AddrIsFree reports whether no address container (IA or TA) in the
// whole database holds the given address. O(total leases).
func (self *AddrDB) AddrIsFree(addr net.IP) bool {
	for _, client := range self.clients {
		for _, ia := range client.IAs() {
			if ia.FindLease(addr) != nil {
				return false
			}
		}
		for _, ta := range client.TAs() {
			if ta.FindLease(addr) != nil {
				return false
			}
		}
	}
	return true
}

// --- timer aggregation -------------------------------------------------
//
// Each query scans every container on every call: any mutation can
// change the minimum, so there is no cached aggregate.

// T1Timeout returns the smallest remaining renew timer in the database,
// or Infinity when it is empty.
func (self *AddrDB) T1Timeout() uint32 {
	min := Infinity
	for _, client := range self.clients {
		if t := client.T1Timeout(); t < min {
			min = t
		}
	}
	return min
}

// T2Timeout returns the smallest remaining rebind timer in the
// database, or Infinity when it is empty.
func (self *AddrDB) T2Timeout() uint32 {
	min := Infinity
	for _, client := range self.clients {
		if t := client.T2Timeout(); t < min {
			min = t
		}
	}
	return min
}

// PrefTimeout returns the smallest remaining preferred lifetime in the
// database, or Infinity when it is empty.
func (self *AddrDB) PrefTimeout() uint32 {
	min := Infinity
	for _, client := range self.clients {
		if t := client.PrefTimeout(); t < min {
			min = t
		}
	}
	return min
}

// ValidTimeout returns the smallest remaining valid lifetime in the
// database, or Infinity when it is empty.
func (self *AddrDB) ValidTimeout() uint32 {
	min := Infinity
	for _, client := range self.clients {
		if t := client.ValidTimeout(); t < min {
			min = t
		}
	}
	return min
}

// --- replay protection and shutdown ------------------------------------

// NextReplayValue increments and returns the replay-protection counter.
// The counter is persisted on Save so restarts never reuse a value.
func (self *AddrDB) NextReplayValue() uint64 {
	self.replayValue++
	return self.replayValue
}

// ReplayValue returns the counter without consuming a value.
func (self *AddrDB) ReplayValue() uint64 { return self.replayValue }

// SetReplayValue restores the counter from persisted state.
func (self *AddrDB) SetReplayValue(v uint64) { self.replayValue = v }

// IsDone reports whether the database finished its shutdown work.
func (self *AddrDB) IsDone() bool { return self.done }

// SetDone records shutdown completion for the owning process to poll.
func (self *AddrDB) SetDone(done bool) { self.done = done }

// --- persistence -------------------------------------------------------

// Load reconstructs the database from the store. A missing database
// file is the first-run case and is not an error; any other failure is
// returned for the caller to judge. Clients parsed before a truncation
// point remain in the database.
func (self *AddrDB) Load() error {
	if self.store == nil {
		return nil
	}
	if err := self.store.Load(self); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			self.log.Warnf("No existing lease database: %v", err)
			return nil
		}
		return err
	}
	self.log.Infof("Lease database loaded: %d client(s).", len(self.clients))
	return nil
}

// Save serializes the database through the store.
func (self *AddrDB) Save() error {
	if self.store == nil {
		return nil
	}
	return self.store.Save(self)
}
