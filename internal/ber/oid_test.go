package ber

import "testing"

func TestOIDDecodeEncodeRoundTrip(t *testing.T) {
	// sysDescr.0 = 1.3.6.1.2.1.1.1.0
	content := []byte{0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01, 0x00}
	oid, err := Decode(content)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := OID{1, 3, 6, 1, 2, 1, 1, 1, 0}
	if !Equal(oid, want) {
		t.Fatalf("got %v, want %v", oid, want)
	}
	if got := Encode(oid); !equalBytes(got, content) {
		t.Fatalf("re-encode mismatch: got %x want %x", got, content)
	}
}

func TestOIDDecodeMultiByteSubIdentifier(t *testing.T) {
	// 1.3.6.99999.1 — 99999 needs a 3-octet base-128 group.
	oid, err := Decode([]byte{0x2b, 0x06, 0x86, 0x8d, 0x1f, 0x01})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := OID{1, 3, 6, 99999, 1}
	if !Equal(oid, want) {
		t.Fatalf("got %v want %v", oid, want)
	}
	enc := Encode(oid)
	back, err := Decode(enc)
	if err != nil || !Equal(back, want) {
		t.Fatalf("round trip failed: %v %v", back, err)
	}
}

func TestOIDDecodeDanglingContinuation(t *testing.T) {
	if _, err := Decode([]byte{0x2b, 0x86}); err == nil {
		t.Fatal("expected error on dangling continuation bit")
	}
}

func TestCompareLexicographic(t *testing.T) {
	a := OID{1, 3, 6, 1, 2}
	b := OID{1, 3, 6, 1, 2, 1}
	c := OID{1, 3, 6, 1, 3}
	if Compare(a, b) != -1 {
		t.Fatal("shorter prefix should sort first")
	}
	if Compare(b, a) != 1 {
		t.Fatal("compare must anti-commute")
	}
	if Compare(a, a) != 0 {
		t.Fatal("compare(a,a) must be 0")
	}
	if Compare(b, c) != -1 {
		t.Fatal("expected b < c since 2 < 3 at index 4")
	}
}

func TestCompareAntiCommuteAndTransitive(t *testing.T) {
	oids := []OID{
		{1, 3, 6, 1},
		{1, 3, 6, 1, 2, 1},
		{1, 3, 6, 2},
		{2, 1},
	}
	for i := range oids {
		for j := range oids {
			if Compare(oids[i], oids[j]) != -Compare(oids[j], oids[i]) {
				t.Fatalf("anti-commute failed for %v,%v", oids[i], oids[j])
			}
			for k := range oids {
				if Compare(oids[i], oids[j]) < 0 && Compare(oids[j], oids[k]) < 0 && Compare(oids[i], oids[k]) >= 0 {
					t.Fatalf("transitivity failed for %v < %v < %v", oids[i], oids[j], oids[k])
				}
			}
		}
	}
}

func TestHasPrefix(t *testing.T) {
	base := OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 1}
	inst := base.Append(1)
	if !HasPrefix(inst, base) {
		t.Fatal("expected prefix match")
	}
	if HasPrefix(base, inst) {
		t.Fatal("shorter OID cannot have longer OID as prefix")
	}
}

func TestParseOIDRejectsGarbage(t *testing.T) {
	if _, err := ParseOID(".1.3.6.abc.6"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseOIDAcceptsLeadingDot(t *testing.T) {
	oid, err := ParseOID(".1.3.6.1.2.1.1.1.0")
	if err != nil {
		t.Fatalf("ParseOID: %v", err)
	}
	if oid.String() != "1.3.6.1.2.1.1.1.0" {
		t.Fatalf("got %s", oid.String())
	}
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
