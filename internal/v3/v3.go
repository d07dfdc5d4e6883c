// Package v3 implements the SNMPv3 message wrapper (RFC 3412/3414): the
// msgGlobalData/msgSecurityParameters/msgData envelope around a scoped PDU,
// and the inbound/outbound pipeline that drives USM authentication and
// privacy before handing the plaintext PDU to the dispatcher.
package v3

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
	"github.com/simpledaemons/simple-snmpd/internal/usm"
)

// Flag bits of the single-octet msgFlags field.
const (
	FlagAuth       byte = 0x01
	FlagPriv       byte = 0x02
	FlagReportable byte = 0x04
)

const securityModelUSM = 3

// REPORT varbind OIDs for each USM failure, per RFC 3414 §5's usmStats
// table and RFC 3412's snmpUnknownPDUHandlers/reportable conventions.
var (
	oidUnknownEngineID  = mustOID("1.3.6.1.6.3.15.1.1.4.0")
	oidNotInTimeWindow  = mustOID("1.3.6.1.6.3.15.1.1.2.0")
	oidUnknownUserName  = mustOID("1.3.6.1.6.3.15.1.1.3.0")
	oidUnsupportedLevel = mustOID("1.3.6.1.6.3.15.1.1.1.0")
	oidWrongDigest      = mustOID("1.3.6.1.6.3.15.1.1.5.0")
	oidDecryptionError  = mustOID("1.3.6.1.6.3.15.1.1.6.0")
)

func mustOID(s string) ber.OID {
	o, err := ber.ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

// ReportOID maps a USM failure to the varbind OID its REPORT carries.
func ReportOID(f usm.Failure) (ber.OID, bool) {
	switch f {
	case usm.FailureUnknownEngineID:
		return oidUnknownEngineID, true
	case usm.FailureNotInTimeWindow:
		return oidNotInTimeWindow, true
	case usm.FailureUnknownUserName:
		return oidUnknownUserName, true
	case usm.FailureUnsupportedSecLevel:
		return oidUnsupportedLevel, true
	case usm.FailureWrongDigest:
		return oidWrongDigest, true
	case usm.FailureDecryptionError:
		return oidDecryptionError, true
	default:
		return nil, false
	}
}

// SecurityParams is the decoded contents of the USM msgSecurityParameters
// octet string (RFC 3414 §2.4's UsmSecurityParameters SEQUENCE).
type SecurityParams struct {
	AuthEngineID    []byte
	AuthEngineBoots uint32
	AuthEngineTime  uint32
	UserName        string
	AuthParams      []byte
	PrivParams      []byte
}

// Message is a fully decoded SNMPv3 packet: global header, security
// parameters, and either a plaintext scoped PDU or ciphertext awaiting
// USM decryption.
type Message struct {
	MsgID            int32
	MsgMaxSize       int32
	MsgFlags         byte
	Security         SecurityParams
	ContextEngineID  []byte
	ContextName      string
	PDU              pdu.PDU
	EncryptedPDU     []byte // set instead of PDU when MsgFlags has FlagPriv and decryption has not yet run
}

func (m *Message) HasAuth() bool { return m.MsgFlags&FlagAuth != 0 }
func (m *Message) HasPriv() bool { return m.MsgFlags&FlagPriv != 0 }
func (m *Message) Reportable() bool { return m.MsgFlags&FlagReportable != 0 }

// DecodeMessage parses the outer SNMPv3 SEQUENCE: msgVersion, msgGlobalData,
// msgSecurityParameters, msgData. It does not decrypt or authenticate —
// that happens in ProcessIncoming once the addressed user's keys are known.
func DecodeMessage(buf []byte) (*Message, error) {
	outer, err := ber.ReadTLV(buf)
	if err != nil {
		return nil, err
	}
	if outer.Tag != ber.TagSequence {
		return nil, fmt.Errorf("v3: expected outer SEQUENCE, got tag %#x", outer.Tag)
	}
	rest := outer.Content

	version, rest, err := readInteger(rest)
	if err != nil {
		return nil, err
	}
	if version != int64(pdu.VersionV3) {
		return nil, fmt.Errorf("v3: unexpected msgVersion %d", version)
	}

	globalTLV, rest, err := readTLV(rest)
	if err != nil {
		return nil, err
	}
	msg := &Message{}
	if err := decodeGlobalData(globalTLV.Content, msg); err != nil {
		return nil, err
	}

	secParamsTLV, rest, err := readTLV(rest)
	if err != nil {
		return nil, err
	}
	if secParamsTLV.Tag != ber.TagOctetStr {
		return nil, errors.New("v3: msgSecurityParameters must be an OCTET STRING")
	}
	if err := decodeSecurityParams(secParamsTLV.Content, &msg.Security); err != nil {
		return nil, err
	}

	msgDataTLV, _, err := readTLV(rest)
	if err != nil {
		return nil, err
	}
	switch msgDataTLV.Tag {
	case ber.TagSequence:
		if err := decodeScopedPDU(msgDataTLV.Content, msg); err != nil {
			return nil, err
		}
	case ber.TagOctetStr:
		msg.EncryptedPDU = msgDataTLV.Content
	default:
		return nil, fmt.Errorf("v3: unexpected msgData tag %#x", msgDataTLV.Tag)
	}
	return msg, nil
}

func decodeGlobalData(content []byte, msg *Message) error {
	msgID, rest, err := readInteger(content)
	if err != nil {
		return err
	}
	msg.MsgID = int32(msgID)

	maxSize, rest, err := readInteger(rest)
	if err != nil {
		return err
	}
	msg.MsgMaxSize = int32(maxSize)

	flagsTLV, rest, err := readTLV(rest)
	if err != nil {
		return err
	}
	if flagsTLV.Tag != ber.TagOctetStr || len(flagsTLV.Content) != 1 {
		return errors.New("v3: msgFlags must be a 1-byte OCTET STRING")
	}
	msg.MsgFlags = flagsTLV.Content[0]

	secModel, _, err := readInteger(rest)
	if err != nil {
		return err
	}
	if secModel != securityModelUSM {
		return fmt.Errorf("v3: unsupported msgSecurityModel %d", secModel)
	}
	return nil
}

func decodeSecurityParams(content []byte, sp *SecurityParams) error {
	outer, err := ber.ReadTLV(content)
	if err != nil {
		return err
	}
	if outer.Tag != ber.TagSequence {
		return errors.New("v3: UsmSecurityParameters must be a SEQUENCE")
	}
	rest := outer.Content

	engIDTLV, rest, err := readTLV(rest)
	if err != nil {
		return err
	}
	sp.AuthEngineID = engIDTLV.Content

	boots, rest, err := readInteger(rest)
	if err != nil {
		return err
	}
	sp.AuthEngineBoots = uint32(boots)

	timeVal, rest, err := readInteger(rest)
	if err != nil {
		return err
	}
	sp.AuthEngineTime = uint32(timeVal)

	userTLV, rest, err := readTLV(rest)
	if err != nil {
		return err
	}
	sp.UserName = string(userTLV.Content)

	authTLV, rest, err := readTLV(rest)
	if err != nil {
		return err
	}
	sp.AuthParams = authTLV.Content

	privTLV, _, err := readTLV(rest)
	if err != nil {
		return err
	}
	sp.PrivParams = privTLV.Content
	return nil
}

func decodeScopedPDU(content []byte, msg *Message) error {
	engIDTLV, rest, err := readTLV(content)
	if err != nil {
		return err
	}
	msg.ContextEngineID = engIDTLV.Content

	nameTLV, rest, err := readTLV(rest)
	if err != nil {
		return err
	}
	msg.ContextName = string(nameTLV.Content)

	p, err := pdu.DecodePDU(rest)
	if err != nil {
		return err
	}
	msg.PDU = p
	return nil
}

func readTLV(buf []byte) (ber.TLV, []byte, error) {
	t, err := ber.ReadTLV(buf)
	if err != nil {
		return ber.TLV{}, nil, err
	}
	return t, buf[t.Consumed:], nil
}

func readInteger(buf []byte) (int64, []byte, error) {
	t, rest, err := readTLV(buf)
	if err != nil {
		return 0, nil, err
	}
	if t.Tag != ber.TagInteger {
		return 0, nil, fmt.Errorf("v3: expected INTEGER, got tag %#x", t.Tag)
	}
	v, err := ber.DecodeInteger(t.Content)
	if err != nil {
		return 0, nil, err
	}
	return v, rest, nil
}

// EncodeMessage serializes msg's header and (plaintext) scoped PDU or
// already-encrypted payload. It does not compute the authentication
// digest — the caller must do that over the returned bytes with
// msgAuthenticationParameters zeroed, then call PatchAuthParams.
func EncodeMessage(msg *Message) ([]byte, error) {
	globalData := encodeGlobalData(msg)

	scopedOrCipher, err := encodeMsgData(msg)
	if err != nil {
		return nil, err
	}

	secParams, err := encodeSecurityParams(msg.Security)
	if err != nil {
		return nil, err
	}

	var body []byte
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(pdu.VersionV3)))
	body = append(body, globalData...)
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, secParams)...)
	body = append(body, scopedOrCipher...)

	return ber.WriteTLV(nil, ber.TagSequence, body), nil
}

func encodeGlobalData(msg *Message) []byte {
	var body []byte
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(msg.MsgID)))
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(msg.MsgMaxSize)))
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, []byte{msg.MsgFlags})...)
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(securityModelUSM))
	return ber.WriteTLV(nil, ber.TagSequence, body)
}

func encodeSecurityParams(sp SecurityParams) ([]byte, error) {
	var body []byte
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, sp.AuthEngineID)...)
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(sp.AuthEngineBoots)))
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(sp.AuthEngineTime)))
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, []byte(sp.UserName))...)
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, sp.AuthParams)...)
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, sp.PrivParams)...)
	return ber.WriteTLV(nil, ber.TagSequence, body), nil
}

func encodeMsgData(msg *Message) ([]byte, error) {
	if msg.HasPriv() && msg.EncryptedPDU != nil {
		return ber.WriteTLV(nil, ber.TagOctetStr, msg.EncryptedPDU), nil
	}
	scoped, err := encodeScopedPDU(msg)
	if err != nil {
		return nil, err
	}
	if msg.HasPriv() {
		return ber.WriteTLV(nil, ber.TagOctetStr, scoped), nil
	}
	return scoped, nil
}

func encodeScopedPDU(msg *Message) ([]byte, error) {
	pduBytes := pdu.EncodePDU(msg.PDU)
	var body []byte
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, msg.ContextEngineID)...)
	body = append(body, ber.WriteTLV(nil, ber.TagOctetStr, []byte(msg.ContextName))...)
	body = append(body, pduBytes...)
	return ber.WriteTLV(nil, ber.TagSequence, body), nil
}

// PatchAuthParams re-encodes msg with its final digest filled in, mirroring
// makeMessage's two-pass construction: a first pass with AuthParams zeroed
// produces the bytes the digest is computed over, then the real digest is
// substituted and the message is serialized again.
func PatchAuthParams(msg *Message, digest []byte) ([]byte, error) {
	msg.Security.AuthParams = digest
	return EncodeMessage(msg)
}

// ZeroedAuthParams returns a copy of msg with its AuthParams field blanked
// to the given length, the shape the authentication digest must be
// computed over (RFC 3414 §6.3.2).
func ZeroedAuthParams(msg *Message, length int) *Message {
	clone := *msg
	clone.Security.AuthParams = make([]byte, length)
	return &clone
}

// BuildSalt returns the 8-byte big-endian privacy salt for the given
// monotonic counter value, the form both DES and AES-CFB embed in
// msgPrivacyParameters.
func BuildSalt(counter uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], counter)
	return b
}
