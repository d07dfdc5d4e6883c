// Package pdu models the SNMP protocol data unit shared by v1, v2c, and the
// v3 scoped PDU, and implements its BER framing.
package pdu

import (
	"fmt"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
)

// Version identifies the SNMP message version carried in the outer SEQUENCE.
type Version int

const (
	VersionV1 Version = 0
	VersionV2c Version = 1
	VersionV3  Version = 3
)

// Type is the PDU's context-specific tag, also used as the discriminant for
// dispatcher handling.
type Type ber.Tag

const (
	TypeGetRequest     = Type(ber.TagGetRequest)
	TypeGetNextRequest = Type(ber.TagGetNextRequest)
	TypeGetResponse    = Type(ber.TagGetResponse)
	TypeSetRequest     = Type(ber.TagSetRequest)
	TypeTrapV1         = Type(ber.TagTrapV1)
	TypeGetBulkRequest = Type(ber.TagGetBulkRequest)
	TypeInformRequest  = Type(ber.TagInformRequest)
	TypeTrapV2         = Type(ber.TagTrapV2)
	TypeReport         = Type(ber.TagReport)
)

// ErrorStatus enumerates the RFC 1157/3416 error-status codes used in
// RESPONSE PDUs.
type ErrorStatus int

const (
	ErrNoError             ErrorStatus = 0
	ErrTooBig              ErrorStatus = 1
	ErrNoSuchName          ErrorStatus = 2
	ErrBadValue            ErrorStatus = 3
	ErrReadOnly            ErrorStatus = 4
	ErrGenErr              ErrorStatus = 5
	ErrNoAccess            ErrorStatus = 6
	ErrWrongType           ErrorStatus = 7
	ErrWrongLength         ErrorStatus = 8
	ErrWrongEncoding       ErrorStatus = 9
	ErrWrongValue          ErrorStatus = 10
	ErrNoCreation          ErrorStatus = 11
	ErrInconsistentValue   ErrorStatus = 12
	ErrResourceUnavailable ErrorStatus = 13
	ErrCommitFailed        ErrorStatus = 14
	ErrUndoFailed          ErrorStatus = 15
	ErrAuthorizationError  ErrorStatus = 16
	ErrNotWritable         ErrorStatus = 17
	ErrInconsistentName    ErrorStatus = 18
)

// Value is a decoded varbind value: a BER tag plus its content octets. For
// most tags Content is the raw value bytes; exception markers
// (NoSuchObject/NoSuchInstance/EndOfMibView) carry an empty Content.
type Value struct {
	Tag     ber.Tag
	Content []byte
}

func NullValue() Value       { return Value{Tag: ber.TagNull} }
func NoSuchObject() Value    { return Value{Tag: ber.TagNoSuchObject} }
func NoSuchInstance() Value  { return Value{Tag: ber.TagNoSuchInstance} }
func EndOfMibView() Value    { return Value{Tag: ber.TagEndOfMibView} }

func IsException(v Value) bool {
	switch v.Tag {
	case ber.TagNoSuchObject, ber.TagNoSuchInstance, ber.TagEndOfMibView:
		return true
	default:
		return false
	}
}

// IntegerValue builds a signed INTEGER varbind value.
func IntegerValue(v int64) Value {
	return Value{Tag: ber.TagInteger, Content: ber.EncodeInteger(v)}
}

// OctetStringValue builds an OCTET STRING varbind value.
func OctetStringValue(s []byte) Value {
	return Value{Tag: ber.TagOctetStr, Content: s}
}

// OIDValue builds an OBJECT IDENTIFIER varbind value.
func OIDValue(o ber.OID) Value {
	return Value{Tag: ber.TagOID, Content: ber.Encode(o)}
}

// Counter32Value, GaugeValue, TimeTicksValue, Counter64Value build the
// corresponding application-tagged unsigned varbind values.
func Counter32Value(v uint32) Value { return Value{Tag: ber.TagCounter32, Content: ber.EncodeUint(uint64(v))} }
func GaugeValue(v uint32) Value     { return Value{Tag: ber.TagGauge32, Content: ber.EncodeUint(uint64(v))} }
func TimeTicksValue(v uint32) Value { return Value{Tag: ber.TagTimeTicks, Content: ber.EncodeUint(uint64(v))} }
func Counter64Value(v uint64) Value { return Value{Tag: ber.TagCounter64, Content: ber.EncodeUint(v)} }
func IPAddressValue(b [4]byte) Value { return Value{Tag: ber.TagIPAddress, Content: b[:]} }

// VarBind is one (OID, value) binding.
type VarBind struct {
	OID   ber.OID
	Value Value
}

// PDU is the inner body shared by GET/GETNEXT/RESPONSE/SET/GETBULK/TRAP/
// INFORM/REPORT. For GETBULK, NonRepeaters and MaxRepetitions alias the
// ErrorStatus/ErrorIndex integer slots per RFC 1905 §4.2.3.
type PDU struct {
	Type         Type
	RequestID    int32
	ErrorStatus  ErrorStatus
	ErrorIndex   int
	VarBinds     []VarBind
}

func (p *PDU) NonRepeaters() int    { return int(p.ErrorStatus) }
func (p *PDU) MaxRepetitions() int  { return p.ErrorIndex }
func (p *PDU) SetNonRepeaters(n int)   { p.ErrorStatus = ErrorStatus(n) }
func (p *PDU) SetMaxRepetitions(n int) { p.ErrorIndex = n }

// Message is the outer v1/v2c SEQUENCE: version, community, and PDU.
type Message struct {
	Version   Version
	Community []byte
	PDU       PDU
}

// EncodeValue emits the TLV for a varbind value.
func EncodeValue(v Value) []byte {
	return ber.WriteTLV(nil, v.Tag, v.Content)
}

// encodeVarBind emits SEQUENCE { oid OID, value ANY }.
func encodeVarBind(vb VarBind) []byte {
	inner := ber.WriteTLV(nil, ber.TagOID, ber.Encode(vb.OID))
	inner = append(inner, EncodeValue(vb.Value)...)
	return ber.WriteTLV(nil, ber.TagSequence, inner)
}

// EncodePDUBody emits the PDU's inner SEQUENCE (request-id, error-status,
// error-index, varbinds) without the outer context-specific tag.
func EncodePDUBody(p PDU) []byte {
	var body []byte
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(p.RequestID)))
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(p.ErrorStatus)))
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(p.ErrorIndex)))
	var vbs []byte
	for _, vb := range p.VarBinds {
		vbs = append(vbs, encodeVarBind(vb)...)
	}
	body = ber.WriteTLV(body, ber.TagSequence, vbs)
	return body
}

// EncodePDU emits the full PDU including its context-specific outer tag.
func EncodePDU(p PDU) []byte {
	return ber.WriteTLV(nil, ber.Tag(p.Type), EncodePDUBody(p))
}

// EncodeMessage emits the complete v1/v2c SEQUENCE { version, community, pdu }.
func EncodeMessage(m Message) []byte {
	var body []byte
	body = ber.WriteTLV(body, ber.TagInteger, ber.EncodeInteger(int64(m.Version)))
	body = ber.WriteTLV(body, ber.TagOctetStr, m.Community)
	body = append(body, EncodePDU(m.PDU)...)
	return ber.WriteTLV(nil, ber.TagSequence, body)
}

// DecodePDUBody parses the PDU's inner SEQUENCE given its content octets and
// fills in everything but Type (the caller already knows the outer tag).
func DecodePDUBody(content []byte) (PDU, error) {
	var p PDU
	rest := content

	tlv, err := ber.ReadTLV(rest)
	if err != nil {
		return p, fmt.Errorf("request-id: %w", err)
	}
	rid, err := ber.DecodeInteger(tlv.Content)
	if err != nil {
		return p, fmt.Errorf("request-id: %w", err)
	}
	p.RequestID = int32(rid)
	rest = rest[tlv.Consumed:]

	tlv, err = ber.ReadTLV(rest)
	if err != nil {
		return p, fmt.Errorf("error-status: %w", err)
	}
	es, err := ber.DecodeInteger(tlv.Content)
	if err != nil {
		return p, fmt.Errorf("error-status: %w", err)
	}
	p.ErrorStatus = ErrorStatus(es)
	rest = rest[tlv.Consumed:]

	tlv, err = ber.ReadTLV(rest)
	if err != nil {
		return p, fmt.Errorf("error-index: %w", err)
	}
	ei, err := ber.DecodeInteger(tlv.Content)
	if err != nil {
		return p, fmt.Errorf("error-index: %w", err)
	}
	p.ErrorIndex = int(ei)
	rest = rest[tlv.Consumed:]

	tlv, err = ber.ReadTLV(rest)
	if err != nil {
		return p, fmt.Errorf("varbind list: %w", err)
	}
	vbList := tlv.Content
	for len(vbList) > 0 {
		seq, err := ber.ReadTLV(vbList)
		if err != nil {
			return p, fmt.Errorf("varbind entry: %w", err)
		}
		vb, err := decodeVarBind(seq.Content)
		if err != nil {
			return p, err
		}
		p.VarBinds = append(p.VarBinds, vb)
		vbList = vbList[seq.Consumed:]
	}
	return p, nil
}

func decodeVarBind(content []byte) (VarBind, error) {
	oidTLV, err := ber.ReadTLV(content)
	if err != nil {
		return VarBind{}, fmt.Errorf("varbind oid: %w", err)
	}
	oid, err := ber.Decode(oidTLV.Content)
	if err != nil {
		return VarBind{}, fmt.Errorf("varbind oid: %w", err)
	}
	rest := content[oidTLV.Consumed:]
	valTLV, err := ber.ReadTLV(rest)
	if err != nil {
		return VarBind{}, fmt.Errorf("varbind value: %w", err)
	}
	return VarBind{OID: oid, Value: Value{Tag: valTLV.Tag, Content: valTLV.Content}}, nil
}

// DecodePDU parses a full PDU including its context-specific outer tag.
func DecodePDU(buf []byte) (PDU, error) {
	tlv, err := ber.ReadTLV(buf)
	if err != nil {
		return PDU{}, fmt.Errorf("pdu: %w", err)
	}
	p, err := DecodePDUBody(tlv.Content)
	if err != nil {
		return PDU{}, err
	}
	p.Type = Type(tlv.Tag)
	return p, nil
}

// DecodeMessage parses a complete v1/v2c SEQUENCE { version, community, pdu }.
func DecodeMessage(buf []byte) (Message, error) {
	outer, err := ber.ReadTLV(buf)
	if err != nil {
		return Message{}, fmt.Errorf("message: %w", err)
	}
	if outer.Tag != ber.TagSequence {
		return Message{}, fmt.Errorf("message: expected SEQUENCE, got tag %#x", outer.Tag)
	}
	rest := outer.Content

	verTLV, err := ber.ReadTLV(rest)
	if err != nil {
		return Message{}, fmt.Errorf("version: %w", err)
	}
	ver, err := ber.DecodeInteger(verTLV.Content)
	if err != nil {
		return Message{}, fmt.Errorf("version: %w", err)
	}
	rest = rest[verTLV.Consumed:]

	var m Message
	m.Version = Version(ver)

	if m.Version != VersionV3 {
		commTLV, err := ber.ReadTLV(rest)
		if err != nil {
			return Message{}, fmt.Errorf("community: %w", err)
		}
		m.Community = commTLV.Content
		rest = rest[commTLV.Consumed:]
	}

	p, err := DecodePDU(rest)
	if err != nil {
		return Message{}, err
	}
	m.PDU = p
	return m, nil
}
