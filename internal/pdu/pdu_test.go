package pdu

import (
	"bytes"
	"testing"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
)

// TestDecodeScenario1 decodes the exact wire bytes for the "GET sysDescr.0
// (v2c)" end-to-end scenario.
func TestDecodeScenario1(t *testing.T) {
	raw := []byte{
		0x30, 0x29, 0x02, 0x01, 0x01, 0x04, 0x06, 0x70, 0x75, 0x62, 0x6C, 0x69,
		0x63, 0xA0, 0x1C, 0x02, 0x04, 0x00, 0x00, 0x00, 0x01, 0x02, 0x01, 0x00,
		0x02, 0x01, 0x00, 0x30, 0x0E, 0x30, 0x0C, 0x06, 0x08, 0x2B, 0x06, 0x01,
		0x02, 0x01, 0x01, 0x01, 0x00, 0x05, 0x00,
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Version != VersionV2c {
		t.Fatalf("version = %d, want v2c", msg.Version)
	}
	if string(msg.Community) != "public" {
		t.Fatalf("community = %q", msg.Community)
	}
	if msg.PDU.Type != TypeGetRequest {
		t.Fatalf("pdu type = %#x, want GetRequest", msg.PDU.Type)
	}
	if msg.PDU.RequestID != 1 {
		t.Fatalf("request-id = %d, want 1", msg.PDU.RequestID)
	}
	if len(msg.PDU.VarBinds) != 1 {
		t.Fatalf("varbinds = %d, want 1", len(msg.PDU.VarBinds))
	}
	wantOID, _ := ber.ParseOID("1.3.6.1.2.1.1.1.0")
	if !ber.Equal(msg.PDU.VarBinds[0].OID, wantOID) {
		t.Fatalf("oid = %v, want %v", msg.PDU.VarBinds[0].OID, wantOID)
	}
	if msg.PDU.VarBinds[0].Value.Tag != ber.TagNull {
		t.Fatalf("request varbind value should be NULL, got %#x", msg.PDU.VarBinds[0].Value.Tag)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	oid, _ := ber.ParseOID("1.3.6.1.2.1.1.1.0")
	msg := Message{
		Version:   VersionV2c,
		Community: []byte("public"),
		PDU: PDU{
			Type:      TypeGetResponse,
			RequestID: 42,
			VarBinds: []VarBind{
				{OID: oid, Value: OctetStringValue([]byte("Simple SNMP Daemon"))},
			},
		},
	}
	encoded := EncodeMessage(msg)
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.PDU.RequestID != 42 || decoded.PDU.Type != TypeGetResponse {
		t.Fatalf("got %+v", decoded.PDU)
	}
	if !bytes.Equal(decoded.PDU.VarBinds[0].Value.Content, []byte("Simple SNMP Daemon")) {
		t.Fatalf("got %q", decoded.PDU.VarBinds[0].Value.Content)
	}
}

func TestGetBulkAliasedFields(t *testing.T) {
	p := PDU{Type: TypeGetBulkRequest}
	p.SetNonRepeaters(2)
	p.SetMaxRepetitions(5)
	if p.NonRepeaters() != 2 || p.MaxRepetitions() != 5 {
		t.Fatalf("got nonRepeaters=%d maxRepetitions=%d", p.NonRepeaters(), p.MaxRepetitions())
	}
}

func TestIsException(t *testing.T) {
	if !IsException(NoSuchObject()) || !IsException(NoSuchInstance()) || !IsException(EndOfMibView()) {
		t.Fatal("exception markers not recognized")
	}
	if IsException(IntegerValue(1)) {
		t.Fatal("ordinary value misclassified as exception")
	}
}
