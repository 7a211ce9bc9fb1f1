// Package xmlfile persists the lease database in its historical
// XML-like line format. The format is parsed by substring search, line
// by line and forward-only, exactly as the files have always been
// written: unknown lines and attributes are skipped, truncation aborts
// the record in progress, and leases that fail policy validation are
// dropped. Upgrading this to a conformant XML parser would change
// which files are accepted and is deliberately avoided.
package xmlfile

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mkowalik/leasedb/pkg/addrdb"
)

// ErrTruncated means end-of-input was reached while a record was still
// open. Clients parsed before the truncation point are retained.
var ErrTruncated = errors.New("lease database file truncated")

// Store implements addrdb.Store on top of a single database file.
type Store struct {
	path      string
	validator addrdb.LeaseValidator
	log       *logrus.Entry
}

// New creates a store for the given path. A nil validator accepts
// every restored lease.
func New(path string, validator addrdb.LeaseValidator) *Store {
	if validator == nil {
		validator = addrdb.AcceptAll{}
	}
	return &Store{
		path:      path,
		validator: validator,
		log:       logrus.WithField("component", "XMLFileStore"),
	}
}

// Path returns the database file path.
func (self *Store) Path() string {
	return self.path
}
