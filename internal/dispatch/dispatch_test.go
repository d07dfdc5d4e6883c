package dispatch

import (
	"testing"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/mib"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
)

func oid(s string) ber.OID {
	o, err := ber.ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

// allowAllFilter is a permissive ViewFilter fixture for tests that exercise
// GET/GETNEXT/GETBULK/SET handling without needing a real VACM decision.
type allowAllFilter struct{}

func (allowAllFilter) AllowRead(string) bool  { return true }
func (allowAllFilter) AllowWrite(string) bool { return true }

func newFixture() *Dispatcher {
	r := mib.New()

	var name []byte
	r.RegisterScalar(oid("1.3.6.1.2.1.1.5"), ber.TagOctetStr, false,
		func(idx []uint32) (pdu.Value, bool) { return pdu.OctetStringValue(name), true },
		func(idx []uint32, v pdu.Value) mib.Result { name = v.Content; return mib.ResultOK },
	)
	r.RegisterScalar(oid("1.3.6.1.2.1.1.3"), ber.TagTimeTicks, true,
		func(idx []uint32) (pdu.Value, bool) { return pdu.TimeTicksValue(12345), true },
		nil,
	)

	rows := map[uint32]string{1: "eth0", 2: "eth1", 3: "eth2"}
	r.RegisterTable(oid("1.3.6.1.2.1.2.2.1.2"), 3, ber.TagOctetStr, true,
		func(idx []uint32) (pdu.Value, bool) {
			v, ok := rows[idx[0]]
			if !ok {
				return pdu.Value{}, false
			}
			return pdu.OctetStringValue([]byte(v)), true
		},
		nil,
	)

	return New(r)
}

func TestHandleGetV2cTagsExceptionsPerVarbindWithoutAborting(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeGetRequest,
		RequestID: 1,
		VarBinds: []pdu.VarBind{
			{OID: oid("1.3.6.1.2.1.1.3.0"), Value: pdu.NullValue()},
			{OID: oid("9.9.9.9.0"), Value: pdu.NullValue()},
		},
	}
	resp, ok := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.ErrorStatus != pdu.ErrNoError {
		t.Fatalf("v2c GET must not set error-status on exception markers, got %v", resp.ErrorStatus)
	}
	if !pdu.IsException(resp.VarBinds[1].Value) {
		t.Fatalf("expected exception marker on unknown OID, got %+v", resp.VarBinds[1])
	}
}

func TestHandleGetV1SetsErrorStatusAtFirstFailure(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeGetRequest,
		RequestID: 1,
		VarBinds: []pdu.VarBind{
			{OID: oid("1.3.6.1.2.1.1.3.0"), Value: pdu.NullValue()},
			{OID: oid("9.9.9.9.0"), Value: pdu.NullValue()},
			{OID: oid("8.8.8.8.0"), Value: pdu.NullValue()},
		},
	}
	resp, _ := d.Handle(pdu.VersionV1, req, allowAllFilter{})
	if resp.ErrorStatus != pdu.ErrNoSuchName {
		t.Fatalf("expected noSuchName, got %v", resp.ErrorStatus)
	}
	if resp.ErrorIndex != 2 {
		t.Fatalf("expected error-index at the lowest-indexed failure (2), got %d", resp.ErrorIndex)
	}
}

func TestHandleGetNextWalksTableInOrder(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeGetNextRequest,
		RequestID: 2,
		VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.2.2.1.2.1")}},
	}
	resp, _ := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if resp.VarBinds[0].OID.String() != "1.3.6.1.2.1.2.2.1.2.2" {
		t.Fatalf("expected next table row, got %s", resp.VarBinds[0].OID.String())
	}
}

func TestHandleGetNextEndOfMibView(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeGetNextRequest,
		RequestID: 3,
		VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.2.2.1.2.3")}},
	}
	resp, _ := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if !pdu.IsException(resp.VarBinds[0].Value) {
		t.Fatalf("expected endOfMibView, got %+v", resp.VarBinds[0])
	}
}

func TestHandleGetBulkInterleavesRepeatersColumnwise(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeGetBulkRequest,
		RequestID: 4,
		VarBinds: []pdu.VarBind{
			{OID: oid("1.3.6.1.2.1.1.3")},                // non-repeater
			{OID: oid("1.3.6.1.2.1.2.2.1.2")},             // repeater, walks the 3-row table
		},
	}
	req.SetNonRepeaters(1)
	req.SetMaxRepetitions(5)

	resp, _ := d.Handle(pdu.VersionV2c, req, allowAllFilter{})

	// First varbind answers the non-repeater.
	if resp.VarBinds[0].OID.String() != "1.3.6.1.2.1.1.3.0" {
		t.Fatalf("expected sysUpTime instance first, got %s", resp.VarBinds[0].OID.String())
	}
	// The repeating column stops producing rows once the table (3 rows) is
	// exhausted: one endOfMibView marks the end rather than padding out to
	// the full 5 requested repetitions.
	if len(resp.VarBinds) != 1+4 {
		t.Fatalf("expected 1 non-repeater + 4 rows (3 real + 1 endOfMibView), got %d varbinds", len(resp.VarBinds))
	}
	if resp.VarBinds[1].OID.String() != "1.3.6.1.2.1.2.2.1.2.1" {
		t.Fatalf("expected first table row second, got %s", resp.VarBinds[1].OID.String())
	}
	if resp.VarBinds[3].OID.String() != "1.3.6.1.2.1.2.2.1.2.3" {
		t.Fatalf("expected third table row fourth, got %s", resp.VarBinds[3].OID.String())
	}
	if !pdu.IsException(resp.VarBinds[4].Value) {
		t.Fatalf("expected endOfMibView once the table is exhausted, got %+v", resp.VarBinds[4])
	}
}

func TestHandleSetTwoPhaseAbortsWithoutMutatingOnAnyFailure(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeSetRequest,
		RequestID: 5,
		VarBinds: []pdu.VarBind{
			{OID: oid("1.3.6.1.2.1.1.5.0"), Value: pdu.OctetStringValue([]byte("newname"))},
			{OID: oid("1.3.6.1.2.1.1.3.0"), Value: pdu.TimeTicksValue(1)}, // read-only, fails validate
		},
	}
	resp, _ := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if resp.ErrorStatus != pdu.ErrNotWritable {
		t.Fatalf("expected notWritable (v2c), got %v", resp.ErrorStatus)
	}
	if resp.ErrorIndex != 2 {
		t.Fatalf("expected error-index 2 (the failing varbind), got %d", resp.ErrorIndex)
	}

	get, res := d.Registry.Get(oid("1.3.6.1.2.1.1.5.0"))
	if res != mib.ResultOK || string(get.Content) != "" {
		t.Fatalf("sysName must be unmodified after an aborted SET, got %q", get.Content)
	}
}

func TestHandleSetCommitsAllOnFullSuccess(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeSetRequest,
		RequestID: 6,
		VarBinds: []pdu.VarBind{
			{OID: oid("1.3.6.1.2.1.1.5.0"), Value: pdu.OctetStringValue([]byte("host1"))},
		},
	}
	resp, _ := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if resp.ErrorStatus != pdu.ErrNoError {
		t.Fatalf("expected success, got %v", resp.ErrorStatus)
	}
	get, _ := d.Registry.Get(oid("1.3.6.1.2.1.1.5.0"))
	if string(get.Content) != "host1" {
		t.Fatalf("expected committed value, got %q", get.Content)
	}
}

func TestHandleTrapProducesNoResponse(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{Type: pdu.TypeTrapV2, RequestID: 7}
	_, ok := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if ok {
		t.Fatal("a trap must not produce a response PDU")
	}
}

func TestHandleInformEchoesVarbinds(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeInformRequest,
		RequestID: 8,
		VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.1.3.0"), Value: pdu.TimeTicksValue(999)}},
	}
	resp, ok := d.Handle(pdu.VersionV2c, req, allowAllFilter{})
	if !ok || resp.Type != pdu.TypeGetResponse || resp.RequestID != 8 {
		t.Fatalf("expected an echoing RESPONSE, got %+v ok=%v", resp, ok)
	}
	if len(resp.VarBinds) != 1 || resp.VarBinds[0].OID.String() != "1.3.6.1.2.1.1.3.0" {
		t.Fatalf("expected varbinds echoed back unchanged, got %+v", resp.VarBinds)
	}
}

// denyReadFilter denies read access to one specific OID, used to confirm
// VACM denial surfaces the same way as a registry miss.
type denyReadFilter struct{ denied string }

func (f denyReadFilter) AllowRead(oidStr string) bool  { return oidStr != f.denied }
func (f denyReadFilter) AllowWrite(oidStr string) bool { return true }

func TestHandleGetDeniesPerVacmView(t *testing.T) {
	d := newFixture()
	req := pdu.PDU{
		Type:      pdu.TypeGetRequest,
		RequestID: 9,
		VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.1.3.0")}},
	}
	resp, _ := d.Handle(pdu.VersionV2c, req, denyReadFilter{denied: "1.3.6.1.2.1.1.3.0"})
	if !pdu.IsException(resp.VarBinds[0].Value) {
		t.Fatalf("expected a denial exception marker, got %+v", resp.VarBinds[0])
	}
}
