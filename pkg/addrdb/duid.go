package addrdb

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// DUID is the opaque DHCP unique identifier used as the primary key
// for a lease-holding client.
type DUID []byte

// ParseDUID parses the textual form of a DUID: hex digit pairs with
// optional ':' or '-' separators, e.g. "00:01:00:06:0a0b0c".
func ParseDUID(text string) (DUID, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(text))

	if len(cleaned) == 0 || len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("invalid DUID %q: odd or empty hex string", text)
	}

	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid DUID %q: %w", text, err)
	}
	return DUID(raw), nil
}

// String returns the DUID as colon-separated lowercase hex pairs.
func (self DUID) String() string {
	if len(self) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, b := range self {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

func (self DUID) Equal(other DUID) bool {
	return bytes.Equal(self, other)
}

// FQDN carries the DNS-update record negotiated for an identity
// association: the name registered for the client and whether the
// registration has been performed.
type FQDN struct {
	DUID DUID
	Name string
	Used bool
}

// copyIP guards against callers mutating a stored address.
func copyIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	return append(net.IP(nil), ip...)
}
