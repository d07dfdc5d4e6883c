// Package server binds the agent's UDP listener and drives the
// single-reader/bounded-queue/fixed-worker-pool pipeline that decodes each
// datagram, runs it through the security front-end and VACM, hands it to
// the dispatcher, and sends the encoded reply — the Go shape of
// SNMPServer's accept loop and thread pool in snmp_server.hpp, adapted to
// one UDP socket instead of per-connection TCP sockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/dispatch"
	"github.com/simpledaemons/simple-snmpd/internal/mib"
	"github.com/simpledaemons/simple-snmpd/internal/metrics"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
	"github.com/simpledaemons/simple-snmpd/internal/security"
	"github.com/simpledaemons/simple-snmpd/internal/usm"
	"github.com/simpledaemons/simple-snmpd/internal/v3"
	"github.com/simpledaemons/simple-snmpd/internal/vacm"
)

// securityModel strings match RFC 3415 §2's numeric securityModel values
// (1 = SNMPv1, 2 = SNMPv2c, 3 = USM) rendered as the string form
// vacm.Group.SecurityModel compares against.
const (
	securityModelV1  = "1"
	securityModelV2c = "2"
	securityModelUSM = "3"
)

const (
	defaultQueueSize     = 256
	defaultMaxPacketSize = 1472
)

// Deps wires the packages a Server needs. Fields left zero get a default
// filled in by New.
type Deps struct {
	Registry   *mib.Registry
	Dispatcher *dispatch.Dispatcher
	Security   *security.Manager
	VACM       *vacm.Manager
	USM        *usm.Manager
	V3         *v3.Processor
	Metrics    *metrics.SNMP
	Logger     *slog.Logger

	ContextEngineID []byte // defaults to USM.EngineID()
	Workers         int    // defaults to runtime.NumCPU()
	QueueSize       int    // defaults to defaultQueueSize
	MaxPacketSize   int    // defaults to defaultMaxPacketSize

	// OnAuthFailure, when set, is invoked (from a worker goroutine, so it
	// must not block) on a rejected v1/v2c community or a v3 USM failure,
	// letting a caller emit an authenticationFailure notification without
	// this package needing to know anything about trap destinations.
	OnAuthFailure func(sourceIP string)
}

// Server owns the UDP socket, the bounded request queue, and the fixed
// worker pool draining it.
type Server struct {
	deps  Deps
	conn  *net.UDPConn
	queue chan job
	ready chan struct{}
}

type job struct {
	data []byte
	addr *net.UDPAddr
}

// New constructs a Server, filling in defaults for any zero-valued Deps
// field.
func New(deps Deps) *Server {
	if deps.Workers <= 0 {
		deps.Workers = runtime.NumCPU()
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = defaultQueueSize
	}
	if deps.MaxPacketSize <= 0 {
		deps.MaxPacketSize = defaultMaxPacketSize
	}
	if len(deps.ContextEngineID) == 0 && deps.USM != nil {
		deps.ContextEngineID = deps.USM.EngineID()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps, queue: make(chan job, deps.QueueSize), ready: make(chan struct{})}
}

// Ready is closed once the socket is bound, so a caller (or a test) can
// wait for it before sending the first request.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound socket's local address. Valid only after Ready
// has been closed.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// ListenAndServe binds addr (host:port, or ":161") and runs the read loop
// and worker pool until ctx is canceled. It always returns after the
// socket and every worker have shut down cleanly.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("server: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.conn = conn
	close(s.ready)
	defer conn.Close()

	var workers sync.WaitGroup
	for i := 0; i < s.deps.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.work()
		}()
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop(conn)
	}()

	s.deps.Logger.Info("listening", "addr", conn.LocalAddr().String(), "workers", s.deps.Workers)

	<-ctx.Done()
	conn.Close()
	<-readerDone
	close(s.queue)
	workers.Wait()
	return nil
}

// readLoop is the single reader: it owns the socket and is the only
// goroutine that calls ReadFromUDP, handing each datagram to the bounded
// queue for a worker to process.
func (s *Server) readLoop(conn *net.UDPConn) {
	buf := make([]byte, s.deps.MaxPacketSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.deps.Logger.Warn("read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.queue <- job{data: data, addr: addr}
	}
}

// work drains the queue until it is closed, processing one datagram at a
// time — the fixed worker pool's body.
func (s *Server) work() {
	for j := range s.queue {
		s.handlePacket(j.data, j.addr)
	}
}

func (s *Server) handlePacket(data []byte, addr *net.UDPAddr) {
	m := s.deps.Metrics
	m.InPkts.Inc()

	version, ok := peekVersion(data)
	if !ok {
		m.InASNParseErrs.Inc()
		return
	}

	switch version {
	case pdu.VersionV1, pdu.VersionV2c:
		s.handleCommunityRequest(data, addr, version)
	case pdu.VersionV3:
		s.handleV3Request(data, addr)
	default:
		m.InASNParseErrs.Inc()
	}
}

// peekVersion reads just the outer SEQUENCE's first INTEGER so the caller
// can pick the v1/v2c or v3 decode path without decoding the rest twice.
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

func (s *Server) handleCommunityRequest(data []byte, addr *net.UDPAddr, version pdu.Version) {
	m := s.deps.Metrics
	ip := addr.IP.String()

	msg, err := pdu.DecodeMessage(data)
	if err != nil {
		m.InASNParseErrs.Inc()
		return
	}
	s.countRequest(msg.PDU.Type)

	if !s.deps.Security.IsIPAllowed(ip) {
		m.AccessDenied.Inc()
		return
	}
	if !s.deps.Security.CheckRateLimit(ip, time.Now()) {
		m.RateLimitDrops.Inc()
		return
	}
	readOnly, ok := s.deps.Security.CheckCommunity(string(msg.Community), ip)
	if !ok {
		m.InBadCommunityNames.Inc()
		if s.deps.OnAuthFailure != nil {
			s.deps.OnAuthFailure(ip)
		}
		return
	}

	securityModel := securityModelV2c
	if version == pdu.VersionV1 {
		securityModel = securityModelV1
	}
	var vf dispatch.ViewFilter = &vacmFilter{
		vacm:          s.deps.VACM,
		user:          string(msg.Community),
		securityModel: securityModel,
		level:         usm.LevelNoAuthNoPriv,
	}
	if readOnly {
		vf = readOnlyFilter{vf}
	}

	resp, hasResp := s.deps.Dispatcher.Handle(version, msg.PDU, vf)
	if !hasResp {
		return
	}
	out := pdu.EncodeMessage(pdu.Message{Version: version, Community: msg.Community, PDU: resp})
	m.OutGetResponses.Inc()
	if _, err := s.conn.WriteToUDP(out, addr); err != nil {
		s.deps.Logger.Warn("write failed", "addr", addr, "error", err)
	}
}

func (s *Server) handleV3Request(data []byte, addr *net.UDPAddr) {
	m := s.deps.Metrics

	incoming, err := s.deps.V3.ProcessIncoming(data)
	if err != nil {
		m.InASNParseErrs.Inc()
		return
	}

	if incoming.Report != nil {
		m.OutReports.Inc()
		if s.deps.OnAuthFailure != nil {
			s.deps.OnAuthFailure(addr.IP.String())
		}
		out, err := v3.EncodeMessage(incoming.Report)
		if err != nil {
			s.deps.Logger.Warn("encode report failed", "error", err)
			return
		}
		if _, err := s.conn.WriteToUDP(out, addr); err != nil {
			s.deps.Logger.Warn("write failed", "addr", addr, "error", err)
		}
		return
	}

	s.countRequest(incoming.PDU.Type)

	vf := &vacmFilter{
		vacm:          s.deps.VACM,
		user:          incoming.User.Name,
		securityModel: securityModelUSM,
		context:       incoming.ContextName,
		level:         incoming.User.Level,
	}

	resp, hasResp := s.deps.Dispatcher.Handle(pdu.VersionV3, incoming.PDU, vf)
	if !hasResp {
		return
	}
	out, err := s.deps.V3.GenerateResponse(incoming.User, s.deps.ContextEngineID, incoming.ContextName, resp, false)
	if err != nil {
		s.deps.Logger.Warn("generate response failed", "error", err)
		return
	}
	m.OutGetResponses.Inc()
	if _, err := s.conn.WriteToUDP(out, addr); err != nil {
		s.deps.Logger.Warn("write failed", "addr", addr, "error", err)
	}
}

func (s *Server) countRequest(t pdu.Type) {
	m := s.deps.Metrics
	switch t {
	case pdu.TypeGetRequest:
		m.InGetRequests.Inc()
	case pdu.TypeGetNextRequest:
		m.InGetNexts.Inc()
	case pdu.TypeSetRequest:
		m.InSetRequests.Inc()
	case pdu.TypeGetBulkRequest:
		m.InGetBulks.Inc()
	case pdu.TypeTrapV1, pdu.TypeTrapV2:
		m.InTraps.Inc()
	case pdu.TypeInformRequest:
		m.InInforms.Inc()
	}
}

// vacmFilter adapts a resolved (user, securityModel, context, level) onto
// dispatch.ViewFilter's boolean seam. VACM's NoAccess and NotInView
// outcomes both collapse to false here — the PDU layer only needs to know
// whether to honor the access, not which of VACM's own statistics buckets
// recorded the refusal.
type vacmFilter struct {
	vacm          *vacm.Manager
	user          string
	securityModel string
	context       string
	level         usm.SecurityLevel
}

func (f *vacmFilter) AllowRead(oidStr string) bool {
	oid, err := ber.ParseOID(oidStr)
	if err != nil {
		return false
	}
	return f.vacm.Check(f.user, f.securityModel, f.context, f.level, vacm.OpRead, oid) == vacm.DecisionAllowed
}

func (f *vacmFilter) AllowWrite(oidStr string) bool {
	oid, err := ber.ParseOID(oidStr)
	if err != nil {
		return false
	}
	return f.vacm.Check(f.user, f.securityModel, f.context, f.level, vacm.OpWrite, oid) == vacm.DecisionAllowed
}

// readOnlyFilter forces writes to fail without another VACM lookup, for
// v1/v2c communities configured read-only in the security front-end —
// that restriction is a community property, not a VACM one.
type readOnlyFilter struct {
	dispatch.ViewFilter
}

func (readOnlyFilter) AllowWrite(string) bool { return false }
