package addrdb

import (
	"fmt"
	"net"
)

// NameToIndex maps live interface names to their numeric index.
type NameToIndex map[string]int

// IndexToName is the reverse mapping.
type IndexToName map[int]string

// UpdateInterfacesInfo reconciles the stored interface identity of
// every container against the live mapping. It must run to completion
// after Load and before the database is used:
//
//   - a container with no stored name (legacy record) gets its name
//     resolved from its stored index; an unknown index is fatal;
//   - a stored name that no longer exists in the OS is fatal;
//   - a stored name that resolved to a different index is a
//     renumbering event and the index is updated silently.
//
// Any failure returns ErrUnknownInterface (wrapped) and the caller
// must refuse to operate from this database.
func (self *AddrDB) UpdateInterfacesInfo(nameToIndex NameToIndex, indexToName IndexToName) error {
	for _, client := range self.clients {
		for _, ia := range client.Containers() {
			if err := self.updateInterfaceInfo(ia, nameToIndex, indexToName); err != nil {
				return err
			}
		}
	}
	return nil
}

func (self *AddrDB) updateInterfaceInfo(ia *IA, nameToIndex NameToIndex, indexToName IndexToName) error {
	// An empty name means a database written before interface names
	// were stored. Only the index survives, so resolve the name from it.
	if ia.IfaceName() == "" {
		name, ok := indexToName[ia.IfaceIndex()]
		if !ok {
			self.log.Errorf("Legacy database entry references interface index %d, "+
				"which is not present in the OS now. Can't fix this database.", ia.IfaceIndex())
			return fmt.Errorf("%w: index %d", ErrUnknownInterface, ia.IfaceIndex())
		}
		ia.SetIfaceName(name)
		self.log.Debugf("Legacy database entry: container with ifindex=%d and no name, "+
			"updated to %s.", ia.IfaceIndex(), name)
		return nil
	}

	index, ok := nameToIndex[ia.IfaceName()]
	if !ok {
		self.log.Errorf("Database mentions interface %s, which is not present in the OS. "+
			"Can't use this database.", ia.IfaceName())
		return fmt.Errorf("%w: %s", ErrUnknownInterface, ia.IfaceName())
	}

	if ia.IfaceIndex() != index {
		self.log.Warnf("Interface index for %s has changed: was %d, now %d; updating database.",
			ia.IfaceName(), ia.IfaceIndex(), index)
		ia.SetIfaceIndex(index)
	}
	return nil
}

// SystemInterfaces builds the reconciliation maps from the interfaces
// the OS reports right now.
func SystemInterfaces() (NameToIndex, IndexToName, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to enumerate network interfaces: %w", err)
	}
	nameToIndex := make(NameToIndex, len(ifaces))
	indexToName := make(IndexToName, len(ifaces))
	for _, iface := range ifaces {
		nameToIndex[iface.Name] = iface.Index
		indexToName[iface.Index] = iface.Name
	}
	return nameToIndex, indexToName, nil
}
