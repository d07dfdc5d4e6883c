package ber

import (
	"bytes"
	"testing"
)

func TestReadTLVShortForm(t *testing.T) {
	buf := []byte{0x04, 0x05, 'h', 'e', 'l', 'l', 'o', 0xff}
	tlv, err := ReadTLV(buf)
	if err != nil {
		t.Fatalf("ReadTLV: %v", err)
	}
	if tlv.Tag != TagOctetStr || string(tlv.Content) != "hello" || tlv.Consumed != 7 {
		t.Fatalf("got %+v", tlv)
	}
}

func TestReadTLVLongForm(t *testing.T) {
	content := bytes.Repeat([]byte{'x'}, 200)
	buf := append([]byte{0x04, 0x81, 200}, content...)
	tlv, err := ReadTLV(buf)
	if err != nil {
		t.Fatalf("ReadTLV: %v", err)
	}
	if len(tlv.Content) != 200 {
		t.Fatalf("want 200 bytes, got %d", len(tlv.Content))
	}
}

func TestReadTLVRejectsIndefiniteLength(t *testing.T) {
	if _, err := ReadTLV([]byte{0x30, 0x80, 0x00, 0x00}); err == nil {
		t.Fatal("expected rejection of indefinite length")
	}
}

func TestReadTLVRejectsTruncated(t *testing.T) {
	if _, err := ReadTLV([]byte{0x04, 0x05, 'h', 'i'}); err == nil {
		t.Fatal("expected rejection of truncated payload")
	}
}

func TestWriteTLVRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{0x42}, 300)
	encoded := WriteTLV(nil, TagOctetStr, content)
	tlv, err := ReadTLV(encoded)
	if err != nil {
		t.Fatalf("ReadTLV: %v", err)
	}
	if !bytes.Equal(tlv.Content, content) {
		t.Fatal("round-trip content mismatch")
	}
}

func TestEncodeDecodeIntegerBoundaries(t *testing.T) {
	cases := []int64{0, 1, -1, 127, 128, -128, -129, 1 << 30, -(1 << 31), (1 << 31) - 1}
	for _, v := range cases {
		enc := EncodeInteger(v)
		got, err := DecodeInteger(enc)
		if err != nil {
			t.Fatalf("DecodeInteger(%v): %v", v, err)
		}
		if got != v {
			t.Fatalf("round-trip %d -> %x -> %d", v, enc, got)
		}
	}
}

func TestEncodeUintPadsHighBit(t *testing.T) {
	enc := EncodeUint(0xff)
	if len(enc) != 2 || enc[0] != 0x00 {
		t.Fatalf("expected zero-padded encoding, got %x", enc)
	}
	got, err := DecodeUint(enc)
	if err != nil || got != 0xff {
		t.Fatalf("got %d, %v", got, err)
	}
}

func TestDecodeIntegerRejectsEmpty(t *testing.T) {
	if _, err := DecodeInteger(nil); err == nil {
		t.Fatal("expected error on zero-length INTEGER")
	}
}
