package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
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

func oid(s string) ber.OID {
	o, err := ber.ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fullAccessVACM() *vacm.Manager {
	v := vacm.New()
	v.AddGroup(vacm.Group{Name: "everyone", SecurityModel: securityModelV2c, User: "public"})
	v.AddGroup(vacm.Group{Name: "everyone", SecurityModel: securityModelV1, User: "public"})
	v.AddAccess(vacm.Access{
		GroupName:     "everyone",
		ContextMatch:  vacm.MatchPrefix,
		SecurityLevel: usm.LevelNoAuthNoPriv,
		ReadView:      "all",
		WriteView:     "all",
	})
	v.AddViewEntry("all", vacm.ViewEntry{Subtree: oid("1"), Type: vacm.ViewIncluded})
	return v
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	reg := mib.New()
	name := []byte("test-agent")
	reg.RegisterScalar(oid("1.3.6.1.2.1.1.5"), ber.TagOctetStr, false,
		func(idx []uint32) (pdu.Value, bool) { return pdu.OctetStringValue(name), true },
		func(idx []uint32, v pdu.Value) mib.Result {
			name = append([]byte(nil), v.Content...)
			return mib.ResultOK
		},
	)

	sec := security.New(100, time.Minute)
	sec.AddCommunity(security.CommunityEntry{Community: "public", ReadOnly: false})

	deps := Deps{
		Registry:   reg,
		Dispatcher: dispatch.New(reg),
		Security:   sec,
		VACM:       fullAccessVACM(),
		Metrics:    metrics.New(),
		Logger:     discardLogger(),
		Workers:    2,
	}
	return New(deps)
}

func TestListenAndServeHandlesV2cGetRequest(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server did not become ready")
	}

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	req := pdu.Message{
		Version:   pdu.VersionV2c,
		Community: []byte("public"),
		PDU: pdu.PDU{
			Type:      pdu.TypeGetRequest,
			RequestID: 42,
			VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.1.5.0"), Value: pdu.NullValue()}},
		},
	}
	if _, err := client.Write(pdu.EncodeMessage(req)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2048)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("no reply received: %v", err)
	}

	resp, err := pdu.DecodeMessage(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if resp.PDU.RequestID != 42 {
		t.Fatalf("expected request-id 42 echoed back, got %d", resp.PDU.RequestID)
	}
	if len(resp.PDU.VarBinds) != 1 || string(resp.PDU.VarBinds[0].Value.Content) != "test-agent" {
		t.Fatalf("unexpected varbinds: %+v", resp.PDU.VarBinds)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not shut down after ctx cancellation")
	}
}

func TestHandleCommunityRequestRejectsUnknownCommunity(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	<-srv.Ready()

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	req := pdu.Message{
		Version:   pdu.VersionV2c,
		Community: []byte("wrong"),
		PDU: pdu.PDU{
			Type:      pdu.TypeGetRequest,
			RequestID: 1,
			VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.1.5.0"), Value: pdu.NullValue()}},
		},
	}
	if _, err := client.Write(pdu.EncodeMessage(req)); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 2048)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected no reply for an unknown community")
	}

	if srv.deps.Metrics.InBadCommunityNames.Value() != 1 {
		t.Fatalf("expected InBadCommunityNames to be incremented, got %d", srv.deps.Metrics.InBadCommunityNames.Value())
	}

	cancel()
	<-done
}

func TestReadOnlyCommunityDeniesSet(t *testing.T) {
	srv := newTestServer(t)
	srv.deps.Security = security.New(100, time.Minute)
	srv.deps.Security.AddCommunity(security.CommunityEntry{Community: "public", ReadOnly: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	<-srv.Ready()

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	req := pdu.Message{
		Version:   pdu.VersionV2c,
		Community: []byte("public"),
		PDU: pdu.PDU{
			Type:      pdu.TypeSetRequest,
			RequestID: 7,
			VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.1.5.0"), Value: pdu.OctetStringValue([]byte("nope"))}},
		},
	}
	if _, err := client.Write(pdu.EncodeMessage(req)); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("no reply received: %v", err)
	}
	resp, err := pdu.DecodeMessage(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if resp.PDU.ErrorStatus != pdu.ErrNoAccess {
		t.Fatalf("expected ErrNoAccess for a read-only community's SET, got %v", resp.PDU.ErrorStatus)
	}

	cancel()
	<-done
}

func TestVACMFilterCollapsesNoAccessAndNotInViewToFalse(t *testing.T) {
	v := vacm.New()
	v.AddGroup(vacm.Group{Name: "restricted", SecurityModel: securityModelV2c, User: "limited"})
	v.AddAccess(vacm.Access{
		GroupName:     "restricted",
		ContextMatch:  vacm.MatchPrefix,
		SecurityLevel: usm.LevelNoAuthNoPriv,
		ReadView:      "narrow",
	})
	v.AddViewEntry("narrow", vacm.ViewEntry{Subtree: oid("1.3.6.1.2.1.1"), Type: vacm.ViewIncluded})

	f := &vacmFilter{vacm: v, user: "limited", securityModel: securityModelV2c}
	if f.AllowRead("1.3.6.1.2.1.1.1.0") != true {
		t.Fatal("expected an in-view OID to be allowed")
	}
	if f.AllowRead("1.3.6.1.2.1.2.2.1.2.1") != false {
		t.Fatal("expected an out-of-view OID to be denied (notInView collapses to false)")
	}

	unknown := &vacmFilter{vacm: v, user: "nobody", securityModel: securityModelV2c}
	if unknown.AllowRead("1.3.6.1.2.1.1.1.0") != false {
		t.Fatal("expected an unmapped user to be denied (noAccess collapses to false)")
	}
}

// allowAllFilter is a permissive ViewFilter fixture for the readOnlyFilter
// wrapping test below.
type allowAllFilter struct{}

func (allowAllFilter) AllowRead(string) bool  { return true }
func (allowAllFilter) AllowWrite(string) bool { return true }

func TestReadOnlyFilterWrapsUnderlyingRead(t *testing.T) {
	f := readOnlyFilter{allowAllFilter{}}
	if !f.AllowRead("1.3.6.1.2.1.1.1.0") {
		t.Fatal("expected reads to pass through to the wrapped filter")
	}
	if f.AllowWrite("1.3.6.1.2.1.1.1.0") {
		t.Fatal("expected writes to always be denied")
	}
}

func TestPeekVersionRecognizesEachVersion(t *testing.T) {
	for _, want := range []pdu.Version{pdu.VersionV1, pdu.VersionV2c, pdu.VersionV3} {
		msg := pdu.Message{Version: want, Community: []byte("x"), PDU: pdu.PDU{Type: pdu.TypeGetRequest, RequestID: 1}}
		got, ok := peekVersion(pdu.EncodeMessage(msg))
		if !ok || got != want {
			t.Fatalf("expected to recognize version %v, got %v (ok=%v)", want, got, ok)
		}
	}
}

func TestHandleV3RequestSendsReportOnUnknownUser(t *testing.T) {
	srv := newTestServer(t)
	engineID := []byte{0x80, 0, 0, 0, 1, 3, 1, 2, 3, 4, 5}
	usmMgr := usm.NewManager(engineID, 1)
	srv.deps.USM = usmMgr
	srv.deps.V3 = v3.NewProcessor(usmMgr)
	srv.deps.ContextEngineID = engineID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	<-srv.Ready()

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := &v3.Message{
		MsgID:      1,
		MsgMaxSize: 1500,
		MsgFlags:   0,
		Security: v3.SecurityParams{
			AuthEngineID: engineID,
			UserName:     "ghost",
		},
		ContextEngineID: engineID,
		PDU: pdu.PDU{
			Type:      pdu.TypeGetRequest,
			RequestID: 9,
			VarBinds:  []pdu.VarBind{{OID: oid("1.3.6.1.2.1.1.5.0"), Value: pdu.NullValue()}},
		},
	}
	raw, err := v3.EncodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(raw); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("no reply received: %v", err)
	}
	reply, err := v3.DecodeMessage(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if reply.PDU.Type != pdu.TypeReport {
		t.Fatalf("expected a REPORT for an unknown user, got type %v", reply.PDU.Type)
	}

	cancel()
	<-done
}
