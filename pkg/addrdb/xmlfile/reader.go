package xmlfile

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mkowalik/leasedb/pkg/addrdb"
	"github.com/mkowalik/leasedb/pkg/addrdb/lease"
)

// The reader classifies each line by the first known tag it contains:
//
//	<AddrMgr>                     open the manager section
//	<timestamp>                   informational db age, logged only
//	<replayDetection>             authoritative replay counter
//	<AddrClient                   open a client record
//	  <duid                       client identifier
//	  <ReconfigureKey             client security key
//	  <AddrIA | <AddrTA | <AddrPD open a container; timers, IAID,
//	                              iface, ifacename and unicast are
//	                              attributes of the opening line
//	    <fqdn | <fqdnDnsServer    DNS-update metadata
//	    <AddrAddr | <AddrPrefix   one lease per line
//	</AddrMgr> etc.               close the enclosing section
//
// Anything else is skipped, which is how both older and newer formats
// stay loadable.

// Load reconstructs the client hierarchy from the database file into
// db. See the package comment for the tolerance rules.
func (self *Store) Load(db *addrdb.AddrDB) error {
	f, err := os.Open(self.path)
	if err != nil {
		return fmt.Errorf("unable to open lease database: %w", err)
	}
	defer f.Close()

	self.log.Infof("Loading lease database (%s), using built-in routines.", self.path)

	r := bufio.NewScanner(f)
	inManager := false
	for {
		if !r.Scan() {
			if err := r.Err(); err != nil {
				return fmt.Errorf("error reading %s: %w", self.path, err)
			}
			if inManager {
				self.log.Warnf("File %s truncated (</AddrMgr> not found).", self.path)
			} else {
				self.log.Warnf("File %s truncated (<AddrMgr> not found).", self.path)
			}
			return fmt.Errorf("%w: %s", ErrTruncated, self.path)
		}
		line := r.Text()

		switch {
		case strings.Contains(line, "</AddrMgr>"):
			return nil

		case strings.Contains(line, "<AddrMgr>"):
			inManager = true

		case strings.Contains(line, "<timestamp>"):
			if ts, ok := scalarUint(line, "timestamp"); ok {
				now := time.Now().Unix()
				self.log.Infof("DB timestamp: %d, now: %d, db is %d second(s) old.",
					ts, now, now-int64(ts))
			}

		case strings.Contains(line, "<replayDetection>"):
			if v, ok := scalarUint(line, "replayDetection"); ok {
				db.SetReplayValue(v)
				self.log.Debugf("Auth: replay detection value loaded: %d.", v)
			}

		case inManager && strings.Contains(line, "<AddrClient"):
			client, err := self.parseClient(r)
			if err != nil {
				return err
			}
			if client == nil {
				continue
			}
			if client.Empty() {
				self.log.Infof("All of client's %s leases are no longer valid.", client.DUID())
				continue
			}
			db.AddClient(client)
			self.log.Debugf("Client %s loaded from disk successfully (%d/%d/%d ia/pd/ta).",
				client.DUID(), client.CountIA(), client.CountPD(), client.CountTA())
		}
	}
}

// parseClient consumes lines until </AddrClient>. A client that never
// produced a duid line comes back nil and is dropped by the caller.
func (self *Store) parseClient(r *bufio.Scanner) (*addrdb.Client, error) {
	var client *addrdb.Client
	var reconfKey []byte

	for {
		if !r.Scan() {
			self.log.Errorf("Truncated database: failed to read AddrClient content.")
			return nil, fmt.Errorf("%w: unterminated <AddrClient> section", ErrTruncated)
		}
		line := r.Text()

		switch {
		case strings.Contains(line, "</AddrClient>"):
			if client != nil && len(reconfKey) > 0 {
				client.SetReconfigureKey(reconfKey)
			}
			return client, nil

		case strings.Contains(line, "<ReconfigureKey"):
			if body, ok := tagBody(line, "ReconfigureKey"); ok {
				if key, err := addrdb.ParseDUID(body); err == nil {
					reconfKey = []byte(key)
				}
			}

		case strings.Contains(line, "<duid"):
			body, ok := tagBody(line, "duid")
			if !ok {
				continue
			}
			duid, err := addrdb.ParseDUID(body)
			if err != nil {
				self.log.Warnf("Malformed duid line ignored: %v.", err)
				continue
			}
			client = addrdb.NewClient(duid)

		case strings.Contains(line, "<AddrIA "):
			ia, err := self.parseContainer(r, addrdb.KindIA, line)
			if err != nil {
				return nil, err
			}
			self.attach(client, ia)

		case strings.Contains(line, "<AddrTA "):
			ta, err := self.parseContainer(r, addrdb.KindTA, line)
			if err != nil {
				return nil, err
			}
			self.attach(client, ta)

		case strings.Contains(line, "<AddrPD "):
			pd, err := self.parseContainer(r, addrdb.KindPD, line)
			if err != nil {
				return nil, err
			}
			self.attach(client, pd)
		}
	}
}

// attach adds a parsed container to the client. A container with no
// surviving leases is discarded; "no valid leases" is not an error.
func (self *Store) attach(client *addrdb.Client, ia *addrdb.IA) {
	if ia == nil || client == nil {
		return
	}
	if ia.CountLeases() == 0 {
		self.log.Debugf("%s with iaid=%d has no valid leases.", ia.Kind(), ia.IAID())
		return
	}
	if err := client.AddContainer(ia); err != nil {
		self.log.Warnf("Duplicate %s container iaid=%d ignored.", ia.Kind(), ia.IAID())
	}
}

// parseContainer builds a container from its opening line's attributes
// and consumes lease/FQDN lines until the matching closing tag. The
// restored container is always tentative: it predates any confirmation
// from the server in this run.
func (self *Store) parseContainer(r *bufio.Scanner, kind addrdb.Kind, header string) (*addrdb.IA, error) {
	t1, _ := attrUint(header, "T1")
	t2, _ := attrUint(header, "T2")
	iaid, _ := attrUint(header, "IAID")
	ifindex, _ := attrUint(header, "iface")
	// ifacename is absent in pre-upgrade databases; reconciliation
	// resolves the name from the index before the db may be used.
	ifacename, _ := attrString(header, "ifacename")

	ia := addrdb.NewIA(kind, ifacename, int(ifindex), uint32(iaid), uint32(t1), uint32(t2))
	if uni, ok := attrString(header, "unicast"); ok && uni != "" {
		if ip := net.ParseIP(uni); ip != nil {
			ia.SetUnicast(ip)
		}
	}
	self.log.Debugf("Loaded %s from file: t1=%d, t2=%d, iaid=%d, iface=%s/%d.",
		kind, t1, t2, iaid, ifacename, ifindex)

	closing := "</Addr" + kind.String() + ">"
	for {
		if !r.Scan() {
			self.log.Errorf("Failed to parse %s entry: file truncated.", kind)
			return nil, fmt.Errorf("%w: unterminated %s section", ErrTruncated, kind)
		}
		line := r.Text()

		switch {
		case strings.Contains(line, closing):
			ia.SetState(addrdb.StateTentative)
			return ia, nil

		case strings.Contains(line, "<AddrPrefix"):
			if kind != addrdb.KindPD {
				continue
			}
			l := self.parseLease(line, "AddrPrefix", "length", 0)
			if l == nil {
				continue
			}
			if !self.validator.VerifyPrefix(l.Addr) {
				self.log.Debugf("Prefix %s no longer matches current configuration. Lease dropped.", l)
				continue
			}
			if err := ia.AddLease(l); err != nil {
				self.log.Warnf("Duplicate lease %s in %s iaid=%d ignored.", l, kind, iaid)
			}

		case strings.Contains(line, "<AddrAddr"):
			if kind == addrdb.KindPD {
				continue
			}
			l := self.parseLease(line, "AddrAddr", "prefix", 64)
			if l == nil {
				continue
			}
			if !self.validator.VerifyAddr(l.Addr) {
				self.log.Debugf("Address %s is no longer supported. Lease dropped.", l.Addr)
				continue
			}
			if err := ia.AddLease(l); err != nil {
				self.log.Warnf("Duplicate lease %s in %s iaid=%d ignored.", l, kind, iaid)
			}

		case strings.Contains(line, "<fqdnDnsServer>"):
			if body, ok := tagBody(line, "fqdnDnsServer"); ok {
				if ip := net.ParseIP(body); ip != nil {
					ia.SetFQDNDns(ip)
				}
			}

		case strings.Contains(line, "<fqdn "):
			if fqdn := parseFQDN(line); fqdn != nil {
				ia.SetFQDN(fqdn)
			}
		}
	}
}

// parseLease extracts one lease from a single line. The record counts
// only when timestamp, pref and valid are all present and nonzero and
// the tag body parses as an address; otherwise the line is treated as
// malformed and skipped.
func (self *Store) parseLease(line, tag, lengthAttr string, defaultLen int) *lease.Lease {
	ts, _ := attrUint(line, "timestamp")
	pref, _ := attrUint(line, "pref")
	valid, _ := attrUint(line, "valid")
	length := defaultLen
	if v, ok := attrUint(line, lengthAttr); ok {
		length = int(v)
	}
	body, ok := tagBody(line, tag)
	if !ok {
		return nil
	}
	addr := net.ParseIP(strings.TrimSpace(body))
	if addr == nil || ts == 0 || pref == 0 || valid == 0 {
		return nil
	}
	self.log.Debugf("Parsed lease %s/%d, pref=%d, valid=%d, ts=%d.", addr, length, pref, valid, ts)
	return &lease.Lease{
		Addr:              addr,
		PreferredLifetime: uint32(pref),
		ValidLifetime:     uint32(valid),
		Timestamp:         int64(ts),
		PrefixLen:         length,
	}
}

func parseFQDN(line string) *addrdb.FQDN {
	name, ok := tagBody(line, "fqdn")
	if !ok {
		return nil
	}
	duidTxt, _ := attrString(line, "duid")
	duid, _ := addrdb.ParseDUID(duidTxt)
	usedTxt, _ := attrString(line, "used")
	return &addrdb.FQDN{DUID: duid, Name: name, Used: usedTxt == "TRUE"}
}

// attrUint finds `name="digits"` in the line. The leading space in the
// needle keeps attribute names from matching suffixes of longer names
// (iface= vs ifacename=).
func attrUint(line, name string) (uint64, bool) {
	raw, ok := attrString(line, name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func attrString(line, name string) (string, bool) {
	needle := " " + name + `="`
	i := strings.Index(line, needle)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(needle):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// tagBody returns the text between `<tag ...>` and `</tag>` on one line.
func tagBody(line, tag string) (string, bool) {
	i := strings.Index(line, "<"+tag)
	if i < 0 {
		return "", false
	}
	rest := line[i:]
	gt := strings.IndexByte(rest, '>')
	if gt < 0 {
		return "", false
	}
	body := rest[gt+1:]
	j := strings.Index(body, "</"+tag+">")
	if j < 0 {
		return "", false
	}
	return body[:j], true
}

func scalarUint(line, tag string) (uint64, bool) {
	body, ok := tagBody(line, tag)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(body), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
