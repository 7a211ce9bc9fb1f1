package xmlfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mkowalik/leasedb/pkg/addrdb"
)

// Save serializes the whole hierarchy in traversal order. The timestamp
// field is refreshed to now and the live replay counter is emitted.
// Everything written here must load back through the reader: round-trip
// is a hard contract of the format.
//
// The file is written to a temporary path and renamed into place, so a
// crash mid-save never leaves a truncated database behind.
func (self *Store) Save(db *addrdb.AddrDB) error {
	tmpPath := self.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", tmpPath, err)
	}

	w := bufio.NewWriter(f)
	self.writeManager(w, db)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, self.path); err != nil {
		return fmt.Errorf("failed to move database into place: %w", err)
	}

	self.log.Debugf("Lease database saved to %s (%d client(s)).", self.path, db.CountClients())
	return nil
}

func (self *Store) writeManager(w io.Writer, db *addrdb.AddrDB) {
	fmt.Fprintln(w, "<AddrMgr>")
	fmt.Fprintf(w, "  <timestamp>%d</timestamp>\n", time.Now().Unix())
	fmt.Fprintf(w, "  <replayDetection>%d</replayDetection>\n", db.ReplayValue())
	for _, client := range db.Clients() {
		self.writeClient(w, client)
	}
	fmt.Fprintln(w, "</AddrMgr>")
}

func (self *Store) writeClient(w io.Writer, client *addrdb.Client) {
	fmt.Fprintln(w, "  <AddrClient>")
	duid := client.DUID()
	fmt.Fprintf(w, "    <duid length=\"%d\">%s</duid>\n", len(duid), duid)
	if key := client.ReconfigureKey(); len(key) > 0 {
		fmt.Fprintf(w, "    <ReconfigureKey length=\"%d\">%s</ReconfigureKey>\n",
			len(key), addrdb.DUID(key))
	}
	for _, ia := range client.IAs() {
		self.writeContainer(w, ia)
	}
	for _, ta := range client.TAs() {
		self.writeContainer(w, ta)
	}
	for _, pd := range client.PDs() {
		self.writeContainer(w, pd)
	}
	fmt.Fprintln(w, "  </AddrClient>")
}

func (self *Store) writeContainer(w io.Writer, ia *addrdb.IA) {
	tag := "Addr" + ia.Kind().String()
	fmt.Fprintf(w, "    <%s T1=\"%d\" T2=\"%d\" IAID=\"%d\" iface=\"%d\" ifacename=\"%s\"",
		tag, ia.T1(), ia.T2(), ia.IAID(), ia.IfaceIndex(), ia.IfaceName())
	if uni := ia.Unicast(); uni != nil {
		fmt.Fprintf(w, " unicast=\"%s\"", uni)
	}
	fmt.Fprintln(w, ">")

	if fqdn := ia.FQDN(); fqdn != nil {
		used := "FALSE"
		if fqdn.Used {
			used = "TRUE"
		}
		fmt.Fprintf(w, "      <fqdn duid=\"%s\" used=\"%s\">%s</fqdn>\n", fqdn.DUID, used, fqdn.Name)
	}
	if dns := ia.FQDNDns(); dns != nil {
		fmt.Fprintf(w, "      <fqdnDnsServer>%s</fqdnDnsServer>\n", dns)
	}

	for _, l := range ia.Leases() {
		if ia.Kind() == addrdb.KindPD {
			fmt.Fprintf(w, "      <AddrPrefix timestamp=\"%d\" pref=\"%d\" valid=\"%d\" length=\"%d\">%s</AddrPrefix>\n",
				l.Timestamp, l.PreferredLifetime, l.ValidLifetime, l.PrefixLen, l.Addr)
		} else {
			fmt.Fprintf(w, "      <AddrAddr timestamp=\"%d\" pref=\"%d\" valid=\"%d\" prefix=\"%d\">%s</AddrAddr>\n",
				l.Timestamp, l.PreferredLifetime, l.ValidLifetime, l.PrefixLen, l.Addr)
		}
	}
	fmt.Fprintf(w, "    </%s>\n", tag)
}
