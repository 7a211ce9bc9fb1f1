package addrdb

import (
	"fmt"
	"net"

	"github.com/mkowalik/leasedb/pkg/addrdb/lease"
)

// AddPrefix records a delegated prefix for a client. Missing client
// records and PD containers are created on the fly; a prefix value
// already present in the container is rejected as a duplicate and
// leaves state unchanged. T1/T2 on the container are refreshed either
// way. quiet suppresses the per-mutation debug logging only.
func (self *AddrDB) AddPrefix(clntDUID DUID, clntAddr net.IP, ifaceName string, ifaceIndex int,
	iaid, t1, t2 uint32, prefix net.IP, pref, valid uint32, length int, quiet bool) error {
	return self.addBinding(KindPD, clntDUID, clntAddr, ifaceName, ifaceIndex,
		iaid, t1, t2, prefix, pref, valid, length, quiet)
}

// AddAddr records a non-temporary address for a client, with the same
// create-on-miss semantics as AddPrefix.
func (self *AddrDB) AddAddr(clntDUID DUID, clntAddr net.IP, ifaceName string, ifaceIndex int,
	iaid, t1, t2 uint32, addr net.IP, pref, valid uint32, prefixLen int, quiet bool) error {
	return self.addBinding(KindIA, clntDUID, clntAddr, ifaceName, ifaceIndex,
		iaid, t1, t2, addr, pref, valid, prefixLen, quiet)
}

// AddTAAddr records a temporary address for a client. TA containers
// carry no renewal timers.
func (self *AddrDB) AddTAAddr(clntDUID DUID, clntAddr net.IP, ifaceName string, ifaceIndex int,
	iaid uint32, addr net.IP, pref, valid uint32, quiet bool) error {
	return self.addBinding(KindTA, clntDUID, clntAddr, ifaceName, ifaceIndex,
		iaid, 0, 0, addr, pref, valid, 128, quiet)
}

// UpdatePrefix refreshes an existing delegated-prefix lease. Unlike
// AddPrefix it never creates anything: a missing client, container or
// lease fails the call. The container's timestamp and T1/T2 are
// refreshed before the lease lookup.
func (self *AddrDB) UpdatePrefix(clntDUID DUID, iaid, t1, t2 uint32,
	prefix net.IP, pref, valid uint32, quiet bool) error {
	return self.updateBinding(KindPD, clntDUID, iaid, t1, t2, prefix, pref, valid, quiet)
}

// UpdateAddr refreshes an existing non-temporary address lease, with
// the same fail-on-miss semantics as UpdatePrefix.
func (self *AddrDB) UpdateAddr(clntDUID DUID, iaid, t1, t2 uint32,
	addr net.IP, pref, valid uint32, quiet bool) error {
	return self.updateBinding(KindIA, clntDUID, iaid, t1, t2, addr, pref, valid, quiet)
}

// DeletePrefix removes a delegated-prefix lease, cascading: an emptied
// container is removed from its client, and an emptied client is
// removed from the database when empty-client deletion is enabled.
func (self *AddrDB) DeletePrefix(clntDUID DUID, iaid uint32, prefix net.IP, quiet bool) error {
	return self.deleteBinding(KindPD, clntDUID, iaid, prefix, quiet)
}

// DeleteAddr removes a non-temporary address lease with the same
// cascade semantics as DeletePrefix.
func (self *AddrDB) DeleteAddr(clntDUID DUID, iaid uint32, addr net.IP, quiet bool) error {
	return self.deleteBinding(KindIA, clntDUID, iaid, addr, quiet)
}

// DeleteTAAddr removes a temporary address lease with the same cascade
// semantics as DeletePrefix.
func (self *AddrDB) DeleteTAAddr(clntDUID DUID, iaid uint32, addr net.IP, quiet bool) error {
	return self.deleteBinding(KindTA, clntDUID, iaid, addr, quiet)
}

func (self *AddrDB) addBinding(kind Kind, clntDUID DUID, clntAddr net.IP,
	ifaceName string, ifaceIndex int, iaid, t1, t2 uint32,
	addr net.IP, pref, valid uint32, length int, quiet bool) error {

	if addr == nil {
		self.log.Errorf("%s: attempt to add a nil lease value failed.", kind)
		return fmt.Errorf("%s: nil lease value", kind)
	}

	client := self.ClientByDUID(clntDUID)
	if client == nil {
		if !quiet {
			self.log.Debugf("Adding client (DUID=%s) to the lease database.", clntDUID)
		}
		client = NewClient(clntDUID)
		self.AddClient(client)
	}

	ia := client.FindContainer(kind, iaid)
	if ia == nil {
		ia = NewIA(kind, ifaceName, ifaceIndex, iaid, t1, t2)
		ia.SetClientAddr(clntAddr)
		ia.SetState(StateConfigured)
		if err := client.AddContainer(ia); err != nil {
			return err
		}
		if !quiet {
			self.log.Debugf("%s: Adding container (iaid=%d) to the lease database.", kind, iaid)
		}
	}

	ia.SetT1(t1)
	ia.SetT2(t2)

	if existing := ia.FindLease(addr); existing != nil {
		self.log.Warnf("%s: Lease %s is already assigned to container iaid=%d.",
			kind, existing, iaid)
		return ErrDuplicateLease
	}

	if err := ia.AddLease(lease.New(copyIP(addr), pref, valid, length)); err != nil {
		return err
	}
	if !quiet {
		self.log.Debugf("%s: Adding lease %s/%d to container iaid=%d.", kind, addr, length, iaid)
	}
	return nil
}

func (self *AddrDB) updateBinding(kind Kind, clntDUID DUID, iaid, t1, t2 uint32,
	addr net.IP, pref, valid uint32, quiet bool) error {

	if addr == nil {
		self.log.Errorf("%s: attempt to update a nil lease value failed.", kind)
		return fmt.Errorf("%s: nil lease value", kind)
	}

	client := self.ClientByDUID(clntDUID)
	if client == nil {
		self.log.Errorf("%s: Unable to update lease %s: DUID=%s not found.", kind, addr, clntDUID)
		return ErrClientNotFound
	}

	ia := client.FindContainer(kind, iaid)
	if ia == nil {
		self.log.Errorf("%s: Unable to find container (iaid=%d) for client %s.", kind, iaid, clntDUID)
		return ErrIANotFound
	}

	ia.RefreshTimestamp()
	ia.SetT1(t1)
	ia.SetT2(t2)

	l := ia.FindLease(addr)
	if l == nil {
		self.log.Warnf("%s: Lease %s is not known, unable to update.", kind, addr)
		return ErrLeaseNotFound
	}

	// The supplied valid lifetime is stored as given. (A long-standing
	// defect in other implementations stored the preferred lifetime
	// here instead.)
	l.Refresh(pref, valid)
	if !quiet {
		self.log.Debugf("%s: Updated lease %s in container iaid=%d.", kind, l, iaid)
	}
	return nil
}

func (self *AddrDB) deleteBinding(kind Kind, clntDUID DUID, iaid uint32,
	addr net.IP, quiet bool) error {

	self.log.Debugf("%s: Deleting lease %s, DUID=%s, iaid=%d.", kind, addr, clntDUID, iaid)

	client := self.ClientByDUID(clntDUID)
	if client == nil {
		self.log.Warnf("%s: Client (DUID=%s) not found, cannot delete lease.", kind, clntDUID)
		return ErrClientNotFound
	}

	ia := client.FindContainer(kind, iaid)
	if ia == nil {
		self.log.Warnf("%s: iaid=%d not assigned to client, cannot delete lease.", kind, iaid)
		return ErrIANotFound
	}

	if ia.FindLease(addr) == nil {
		self.log.Warnf("%s: Lease %s not assigned, cannot delete.", kind, addr)
		return ErrLeaseNotFound
	}

	ia.DeleteLease(addr)
	if !quiet {
		self.log.Debugf("%s: Deleted lease %s from the lease database.", kind, addr)
	}

	if ia.CountLeases() == 0 {
		client.DeleteContainer(kind, iaid)
		if !quiet {
			self.log.Debugf("%s: Deleted container (iaid=%d) from the lease database.", kind, iaid)
		}
	}

	if client.Empty() && self.deleteEmptyClient {
		self.DeleteClient(clntDUID)
		if !quiet {
			self.log.Debugf("%s: Deleted client (DUID=%s) from the lease database.", kind, clntDUID)
		}
	}

	return nil
}
