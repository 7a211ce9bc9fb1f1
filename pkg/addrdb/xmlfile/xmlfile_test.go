package xmlfile

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mkowalik/leasedb/pkg/addrdb"
)

// MockValidator is a mock implementation of addrdb.LeaseValidator
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) VerifyAddr(addr net.IP) bool {
	args := m.Called(addr)
	return args.Bool(0)
}

func (m *MockValidator) VerifyPrefix(prefix net.IP) bool {
	args := m.Called(prefix)
	return args.Bool(0)
}

func testDUID(t *testing.T, text string) addrdb.DUID {
	t.Helper()
	duid, err := addrdb.ParseDUID(text)
	require.NoError(t, err)
	return duid
}

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "AddrMgr.xml")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// buildDB populates a database with two clients holding leases of all
// three kinds, plus the optional fields the format carries.
func buildDB(t *testing.T, store addrdb.Store) *addrdb.AddrDB {
	t.Helper()
	db := addrdb.New(store)

	duidA := testDUID(t, "00:01:00:06:aa")
	require.NoError(t, db.AddAddr(duidA, nil, "eth0", 2, 1, 1000, 2000,
		net.ParseIP("2001:db8::1"), 3600, 7200, 64, true))
	require.NoError(t, db.AddAddr(duidA, nil, "eth0", 2, 1, 1000, 2000,
		net.ParseIP("2001:db8::2"), 3600, 7200, 64, true))
	require.NoError(t, db.AddPrefix(duidA, nil, "eth0", 2, 2, 1500, 2500,
		net.ParseIP("2001:db8:100::"), 3600, 7200, 56, true))

	ia := db.ClientByDUID(duidA).FindContainer(addrdb.KindIA, 1)
	ia.SetUnicast(net.ParseIP("fe80::1"))
	ia.SetFQDN(&addrdb.FQDN{DUID: duidA, Name: "host.example.org", Used: true})
	ia.SetFQDNDns(net.ParseIP("2001:db8::53"))

	duidB := testDUID(t, "00:02:bb")
	require.NoError(t, db.AddTAAddr(duidB, nil, "wan0", 3, 9,
		net.ParseIP("2001:db8::7"), 600, 1200, true))
	require.NoError(t, db.AddPrefix(duidB, nil, "wan0", 3, 4, 100, 200,
		net.ParseIP("2001:db8:200::"), 1000, 2000, 48, true))
	db.ClientByDUID(duidB).SetReconfigureKey([]byte{0xde, 0xad, 0xbe, 0xef})

	db.SetReplayValue(41)
	return db
}

func TestRoundTrip(t *testing.T) {
	path := dbPath(t)
	db := buildDB(t, New(path, nil))
	require.NoError(t, db.Save())

	reloaded := addrdb.New(New(path, nil))
	require.NoError(t, reloaded.Load())

	assert.Equal(t, uint64(41), reloaded.ReplayValue())
	require.Equal(t, 2, reloaded.CountClients())

	clientA := reloaded.ClientByDUID(testDUID(t, "00:01:00:06:aa"))
	require.NotNil(t, clientA)
	assert.Equal(t, 1, clientA.CountIA())
	assert.Equal(t, 0, clientA.CountTA())
	assert.Equal(t, 1, clientA.CountPD())

	ia := clientA.FindContainer(addrdb.KindIA, 1)
	require.NotNil(t, ia)
	assert.Equal(t, uint32(1000), ia.T1())
	assert.Equal(t, uint32(2000), ia.T2())
	assert.Equal(t, "eth0", ia.IfaceName())
	assert.Equal(t, 2, ia.IfaceIndex())
	assert.Equal(t, addrdb.StateTentative, ia.State())
	require.NotNil(t, ia.Unicast())
	assert.Equal(t, "fe80::1", ia.Unicast().String())
	require.NotNil(t, ia.FQDN())
	assert.Equal(t, "host.example.org", ia.FQDN().Name)
	assert.True(t, ia.FQDN().Used)
	assert.True(t, ia.FQDN().DUID.Equal(testDUID(t, "00:01:00:06:aa")))
	require.NotNil(t, ia.FQDNDns())
	assert.Equal(t, "2001:db8::53", ia.FQDNDns().String())

	require.Equal(t, 2, ia.CountLeases())
	original := db.ClientByDUID(testDUID(t, "00:01:00:06:aa")).FindContainer(addrdb.KindIA, 1)
	for _, want := range original.Leases() {
		got := ia.FindLease(want.Addr)
		require.NotNil(t, got, "lease %s lost in round trip", want)
		assert.Equal(t, want.PreferredLifetime, got.PreferredLifetime)
		assert.Equal(t, want.ValidLifetime, got.ValidLifetime)
		assert.Equal(t, want.Timestamp, got.Timestamp)
		assert.Equal(t, want.PrefixLen, got.PrefixLen)
	}

	pd := clientA.FindContainer(addrdb.KindPD, 2)
	require.NotNil(t, pd)
	require.Equal(t, 1, pd.CountLeases())
	prefix := pd.FindLease(net.ParseIP("2001:db8:100::"))
	require.NotNil(t, prefix)
	assert.Equal(t, 56, prefix.PrefixLen)
	assert.Equal(t, addrdb.StateTentative, pd.State())

	clientB := reloaded.ClientByDUID(testDUID(t, "00:02:bb"))
	require.NotNil(t, clientB)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, clientB.ReconfigureKey())

	ta := clientB.FindContainer(addrdb.KindTA, 9)
	require.NotNil(t, ta)
	require.Equal(t, 1, ta.CountLeases())
	taLease := ta.FindLease(net.ParseIP("2001:db8::7"))
	require.NotNil(t, taLease)
	assert.Equal(t, 128, taLease.PrefixLen)

	pdB := clientB.FindContainer(addrdb.KindPD, 4)
	require.NotNil(t, pdB)
	assert.Equal(t, "wan0", pdB.IfaceName())
	assert.Equal(t, 3, pdB.IfaceIndex())
	require.NotNil(t, pdB.FindLease(net.ParseIP("2001:db8:200::")))
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	path := dbPath(t)
	db := buildDB(t, New(path, nil))
	require.NoError(t, db.Save())

	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFile(t *testing.T) {
	path := dbPath(t)
	store := New(path, nil)

	err := store.Load(addrdb.New(nil))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	// The manager treats a missing file as the first-run case.
	db := addrdb.New(store)
	assert.NoError(t, db.Load())
	assert.Equal(t, 0, db.CountClients())
}

func TestLoadTruncatedClientKeepsPriorClients(t *testing.T) {
	path := dbPath(t)
	writeFile(t, path, `<AddrMgr>
  <timestamp>100</timestamp>
  <replayDetection>5</replayDetection>
  <AddrClient>
    <duid length="2">00:01</duid>
    <AddrPD T1="100" T2="200" IAID="1" iface="2" ifacename="eth0">
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">2001:db8:100::</AddrPrefix>
    </AddrPD>
  </AddrClient>
  <AddrClient>
    <duid length="2">00:02</duid>
`)

	db := addrdb.New(nil)
	err := New(path, nil).Load(db)
	assert.ErrorIs(t, err, ErrTruncated)

	// The fully parsed client survives, the truncated one does not.
	require.Equal(t, 1, db.CountClients())
	assert.NotNil(t, db.ClientByDUID(testDUID(t, "00:01")))
	assert.Equal(t, uint64(5), db.ReplayValue())
}

func TestLoadTruncatedBeforeManagerTag(t *testing.T) {
	path := dbPath(t)
	writeFile(t, path, "some other file entirely\n")

	err := New(path, nil).Load(addrdb.New(nil))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestLoadSkipsUnknownLinesAndAttributes(t *testing.T) {
	path := dbPath(t)
	writeFile(t, path, `<AddrMgr>
  <futureFeature enabled="yes">whatever</futureFeature>
  <replayDetection>3</replayDetection>
  <AddrClient>
    <duid length="2">00:01</duid>
    <someNewClientField>42</someNewClientField>
    <AddrPD T1="100" T2="200" IAID="1" iface="2" ifacename="eth0" color="red">
      garbage that matches nothing
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56" extra="1">2001:db8:100::</AddrPrefix>
    </AddrPD>
  </AddrClient>
</AddrMgr>
`)

	db := addrdb.New(nil)
	require.NoError(t, New(path, nil).Load(db))

	require.Equal(t, 1, db.CountClients())
	pd := db.ClientByDUID(testDUID(t, "00:01")).FindContainer(addrdb.KindPD, 1)
	require.NotNil(t, pd)
	assert.Equal(t, 1, pd.CountLeases())
}

func TestLoadDropsLeasesRejectedByValidator(t *testing.T) {
	path := dbPath(t)
	writeFile(t, path, `<AddrMgr>
  <AddrClient>
    <duid length="2">00:01</duid>
    <AddrPD T1="100" T2="200" IAID="1" iface="2" ifacename="eth0">
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">2001:db8:100::</AddrPrefix>
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">2001:db8:200::</AddrPrefix>
    </AddrPD>
    <AddrPD T1="100" T2="200" IAID="2" iface="2" ifacename="eth0">
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">2001:db8:300::</AddrPrefix>
    </AddrPD>
  </AddrClient>
</AddrMgr>
`)

	rejected := net.ParseIP("2001:db8:200::")
	alsoRejected := net.ParseIP("2001:db8:300::")
	validator := new(MockValidator)
	validator.On("VerifyPrefix", mock.MatchedBy(func(ip net.IP) bool {
		return ip.Equal(rejected) || ip.Equal(alsoRejected)
	})).Return(false)
	validator.On("VerifyPrefix", mock.Anything).Return(true)

	db := addrdb.New(nil)
	require.NoError(t, New(path, validator).Load(db))

	require.Equal(t, 1, db.CountClients())
	client := db.ClientByDUID(testDUID(t, "00:01"))

	// First container keeps only the accepted lease; the second lost
	// its only lease and is discarded entirely.
	pd := client.FindContainer(addrdb.KindPD, 1)
	require.NotNil(t, pd)
	assert.Equal(t, 1, pd.CountLeases())
	assert.Nil(t, pd.FindLease(rejected))
	assert.Nil(t, client.FindContainer(addrdb.KindPD, 2))

	validator.AssertExpectations(t)
}

func TestLoadDiscardsClientWithNoValidLeases(t *testing.T) {
	path := dbPath(t)
	writeFile(t, path, `<AddrMgr>
  <AddrClient>
    <duid length="2">00:01</duid>
    <AddrIA T1="100" T2="200" IAID="1" iface="2" ifacename="eth0">
    </AddrIA>
  </AddrClient>
</AddrMgr>
`)

	db := addrdb.New(nil)
	require.NoError(t, New(path, nil).Load(db))
	assert.Equal(t, 0, db.CountClients())
}

func TestLoadSkipsMalformedLeaseRecords(t *testing.T) {
	path := dbPath(t)
	// pref="0" and a missing timestamp both disqualify a lease record.
	writeFile(t, path, `<AddrMgr>
  <AddrClient>
    <duid length="2">00:01</duid>
    <AddrPD T1="100" T2="200" IAID="1" iface="2" ifacename="eth0">
      <AddrPrefix timestamp="100" pref="0" valid="2000" length="56">2001:db8:100::</AddrPrefix>
      <AddrPrefix pref="1000" valid="2000" length="56">2001:db8:200::</AddrPrefix>
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">not-an-address</AddrPrefix>
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">2001:db8:300::</AddrPrefix>
    </AddrPD>
  </AddrClient>
</AddrMgr>
`)

	db := addrdb.New(nil)
	require.NoError(t, New(path, nil).Load(db))

	pd := db.ClientByDUID(testDUID(t, "00:01")).FindContainer(addrdb.KindPD, 1)
	require.NotNil(t, pd)
	assert.Equal(t, 1, pd.CountLeases())
	assert.NotNil(t, pd.FindLease(net.ParseIP("2001:db8:300::")))
}

func TestLoadLegacyRecordWithoutIfacename(t *testing.T) {
	path := dbPath(t)
	writeFile(t, path, `<AddrMgr>
  <AddrClient>
    <duid length="2">00:01</duid>
    <AddrPD T1="100" T2="200" IAID="1" iface="7">
      <AddrPrefix timestamp="100" pref="1000" valid="2000" length="56">2001:db8:100::</AddrPrefix>
    </AddrPD>
  </AddrClient>
</AddrMgr>
`)

	db := addrdb.New(nil)
	require.NoError(t, New(path, nil).Load(db))

	pd := db.ClientByDUID(testDUID(t, "00:01")).FindContainer(addrdb.KindPD, 1)
	require.NotNil(t, pd)
	assert.Equal(t, "", pd.IfaceName())
	assert.Equal(t, 7, pd.IfaceIndex())

	// Index 7 not present in the OS: the whole database is rejected.
	err := db.UpdateInterfacesInfo(addrdb.NameToIndex{"eth0": 2}, addrdb.IndexToName{2: "eth0"})
	assert.ErrorIs(t, err, addrdb.ErrUnknownInterface)

	// Index 7 present: the name is filled in and the database usable.
	err = db.UpdateInterfacesInfo(addrdb.NameToIndex{"eth3": 7}, addrdb.IndexToName{7: "eth3"})
	require.NoError(t, err)
	assert.Equal(t, "eth3", pd.IfaceName())
}

func TestReplayValueSurvivesRestart(t *testing.T) {
	path := dbPath(t)
	db := addrdb.New(New(path, nil))
	require.NoError(t, db.AddPrefix(testDUID(t, "00:01"), nil, "eth0", 2, 1, 100, 200,
		net.ParseIP("2001:db8:100::"), 1000, 2000, 56, true))
	db.NextReplayValue()
	db.NextReplayValue()
	require.NoError(t, db.Save())

	restarted := addrdb.New(New(path, nil))
	require.NoError(t, restarted.Load())
	assert.Equal(t, uint64(3), restarted.NextReplayValue())
}
