// Package trap implements the agent's own notification traffic: sending
// coldStart and authenticationFailure traps, and — when trap-receiver mode
// is enabled — listening for and logging inbound traps/informs, ack'ing
// informs with a RESPONSE. The send side reuses the v3 message processor's
// GenerateResponse the way core.go's makeMessage builds any outbound USM
// packet; the receive side is grounded directly on cmd/trapreceiver/
// TrapInformReceiver.go's read loop and inform-ack behavior.
package trap

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/metrics"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
	"github.com/simpledaemons/simple-snmpd/internal/usm"
	"github.com/simpledaemons/simple-snmpd/internal/v3"
)

var (
	oidSysUpTime    = mustOID("1.3.6.1.2.1.1.3.0")
	oidSNMPTrapOID  = mustOID("1.3.6.1.6.3.1.1.4.1.0")
	oidColdStart    = mustOID("1.3.6.1.6.3.1.1.5.1")
	oidAuthFailure  = mustOID("1.3.6.1.6.3.1.1.5.5")
)

func mustOID(s string) ber.OID {
	o, err := ber.ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

var requestIDCounter atomic.Uint32

func nextRequestID() int32 { return int32(requestIDCounter.Add(1)) }

// Sender emits unsolicited notifications to a configured destination.
// v1/v2c notifications are community-authenticated; v3 notifications are
// authenticated/encrypted with TrapUser the same way GenerateResponse
// authenticates any outgoing USM message.
type Sender struct {
	Community       string
	V3              *v3.Processor
	TrapUser        *usm.User // required when sending SNMPv3 notifications
	ContextEngineID []byte
	ContextName     string
	Logger          *slog.Logger
}

// SendColdStart emits the standard startup notification (RFC 3418's
// coldStart), the agent's way of announcing it has just come up.
func (s *Sender) SendColdStart(destAddr string, version pdu.Version, uptimeTicks uint32) error {
	return s.send(destAddr, version, oidColdStart, nil, uptimeTicks)
}

// SendAuthenticationFailure emits the standard authenticationFailure
// notification, sent on a rejected community (v1/v2c) or a USM failure
// (v3) for a request addressed to this agent.
func (s *Sender) SendAuthenticationFailure(destAddr string, version pdu.Version, uptimeTicks uint32) error {
	return s.send(destAddr, version, oidAuthFailure, nil, uptimeTicks)
}

func (s *Sender) send(destAddr string, version pdu.Version, trapOID ber.OID, extra []pdu.VarBind, uptimeTicks uint32) error {
	varBinds := append([]pdu.VarBind{
		{OID: oidSysUpTime, Value: pdu.TimeTicksValue(uptimeTicks)},
		{OID: oidSNMPTrapOID, Value: pdu.OIDValue(trapOID)},
	}, extra...)

	body := pdu.PDU{
		Type:      trapType(version),
		RequestID: nextRequestID(),
		VarBinds:  varBinds,
	}

	var out []byte
	switch version {
	case pdu.VersionV1, pdu.VersionV2c:
		out = pdu.EncodeMessage(pdu.Message{Version: version, Community: []byte(s.Community), PDU: body})
	case pdu.VersionV3:
		if s.V3 == nil || s.TrapUser == nil {
			return errors.New("trap: no v3 processor/user configured for a v3 notification")
		}
		var err error
		out, err = s.V3.GenerateResponse(s.TrapUser, s.ContextEngineID, s.ContextName, body, false)
		if err != nil {
			return fmt.Errorf("trap: build v3 notification: %w", err)
		}
	default:
		return fmt.Errorf("trap: unsupported version %d", version)
	}

	return writeDatagram(destAddr, out)
}

// trapType picks the RFC 1157 Trap-PDU tag for v1 or the RFC 3416
// SNMPv2-Trap-PDU tag for v2c/v3, following the varbind-based shape
// internal/pdu already uses uniformly for every PDU type (sysUpTime and
// snmpTrapOID as the first two varbinds, rather than v1's distinct
// enterprise/agent-addr/generic-trap/specific-trap fields).
func trapType(version pdu.Version) pdu.Type {
	if version == pdu.VersionV1 {
		return pdu.TypeTrapV1
	}
	return pdu.TypeTrapV2
}

func writeDatagram(destAddr string, data []byte) error {
	addr, err := net.ResolveUDPAddr("udp", destAddr)
	if err != nil {
		return fmt.Errorf("trap: resolve %s: %w", destAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("trap: dial %s: %w", destAddr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("trap: write %s: %w", destAddr, err)
	}
	return nil
}

// Receiver listens for inbound traps/informs when trap-receiver mode is
// enabled, logging each and answering informs with a RESPONSE per RFC
// 3416 (the sender otherwise retries indefinitely). Grounded on
// TrapInformReceiver.go's RecPacket/PrTrap pair: one goroutine per
// received datagram rather than the request pipeline's bounded worker
// pool, since notification traffic has no caller waiting on backpressure.
type Receiver struct {
	V3              *v3.Processor
	ContextEngineID []byte
	Metrics         *metrics.SNMP
	Logger          *slog.Logger

	conn *net.UDPConn
}

// ListenAndServe binds addr and processes datagrams until stop is
// closed or the socket is closed.
func (r *Receiver) ListenAndServe(addr string, stop <-chan struct{}) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("trap: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("trap: listen %s: %w", addr, err)
	}
	r.conn = conn

	go func() {
		<-stop
		conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.Logger.Warn("trap read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go r.handle(data, addr)
	}
}

// Addr returns the bound socket's local address. Valid only once
// ListenAndServe has entered its read loop.
func (r *Receiver) Addr() net.Addr { return r.conn.LocalAddr() }

func (r *Receiver) handle(data []byte, addr *net.UDPAddr) {
	version, ok := peekVersion(data)
	if !ok {
		return
	}

	switch version {
	case pdu.VersionV1, pdu.VersionV2c:
		r.handleCommunity(data, addr, version)
	case pdu.VersionV3:
		r.handleV3(data, addr)
	}
}

func (r *Receiver) handleCommunity(data []byte, addr *net.UDPAddr, version pdu.Version) {
	msg, err := pdu.DecodeMessage(data)
	if err != nil {
		r.Logger.Warn("failed to decode inbound notification", "addr", addr, "error", err)
		return
	}
	r.logInbound(addr, version, string(msg.Community), msg.PDU)

	if msg.PDU.Type != pdu.TypeInformRequest {
		return
	}
	ack := pdu.Message{
		Version:   version,
		Community: msg.Community,
		PDU:       pdu.PDU{Type: pdu.TypeGetResponse, RequestID: msg.PDU.RequestID, VarBinds: msg.PDU.VarBinds},
	}
	if _, err := r.conn.WriteToUDP(pdu.EncodeMessage(ack), addr); err != nil {
		r.Logger.Warn("failed to ack inform", "addr", addr, "error", err)
	}
}

func (r *Receiver) handleV3(data []byte, addr *net.UDPAddr) {
	incoming, err := r.V3.ProcessIncoming(data)
	if err != nil {
		r.Logger.Warn("failed to decode inbound v3 notification", "addr", addr, "error", err)
		return
	}
	if incoming.Report != nil {
		out, err := v3.EncodeMessage(incoming.Report)
		if err != nil {
			r.Logger.Warn("failed to encode report", "addr", addr, "error", err)
			return
		}
		if _, err := r.conn.WriteToUDP(out, addr); err != nil {
			r.Logger.Warn("failed to send report", "addr", addr, "error", err)
		}
		return
	}
	r.logInbound(addr, pdu.VersionV3, incoming.User.Name, incoming.PDU)

	if incoming.PDU.Type != pdu.TypeInformRequest {
		return
	}
	ack := pdu.PDU{Type: pdu.TypeGetResponse, RequestID: incoming.PDU.RequestID, VarBinds: incoming.PDU.VarBinds}
	out, err := r.V3.GenerateResponse(incoming.User, r.ContextEngineID, incoming.ContextName, ack, false)
	if err != nil {
		r.Logger.Warn("failed to build inform ack", "addr", addr, "error", err)
		return
	}
	if _, err := r.conn.WriteToUDP(out, addr); err != nil {
		r.Logger.Warn("failed to send inform ack", "addr", addr, "error", err)
	}
}

func (r *Receiver) logInbound(addr *net.UDPAddr, version pdu.Version, principal string, p pdu.PDU) {
	kind := "trap"
	if p.Type == pdu.TypeInformRequest {
		kind = "inform"
	}
	r.Logger.Info("notification received",
		"addr", addr.String(), "version", int(version), "principal", principal,
		"kind", kind, "request_id", p.RequestID, "varbinds", len(p.VarBinds))

	switch p.Type {
	case pdu.TypeInformRequest:
		r.Metrics.InInforms.Inc()
	default:
		r.Metrics.InTraps.Inc()
	}
}

func peekVersion(data []byte) (pdu.Version, bool) {
	outer, err := ber.ReadTLV(data)
	if err != nil || outer.Tag != ber.TagSequence {
		return 0, false
	}
	verTLV, err := ber.ReadTLV(outer.Content)
	if err != nil {
		return 0, false
	}
	v, err := ber.DecodeInteger(verTLV.Content)
	if err != nil {
		return 0, false
	}
	return pdu.Version(v), true
}
