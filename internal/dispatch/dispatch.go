// Package dispatch implements the per-PDU-type request handlers: GET,
// GETNEXT, GETBULK, SET, TRAP, INFORM, and REPORT, per §4.4's state
// machine and tie-break rules.
package dispatch

import (
	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/mib"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
)

// ViewFilter gates a GET/GETNEXT/SET varbind against VACM before it
// reaches the MIB registry; implementations wrap a vacm.Manager bound to
// the caller's user/context/security-level. noAccess and notInView both
// collapse to false here — a denied read surfaces as a noSuchObject
// marker and a denied write as noAccess; VACM's finer distinction is only
// meaningful to its own statistics.
type ViewFilter interface {
	AllowRead(oidStr string) bool
	AllowWrite(oidStr string) bool
}

// Dispatcher routes decoded PDUs to MIB operations and builds the
// response PDU. It holds no per-request state; every method is safe to
// call concurrently from multiple workers against the same registry.
type Dispatcher struct {
	Registry *mib.Registry
}

// New constructs a Dispatcher bound to a MIB registry.
func New(r *mib.Registry) *Dispatcher {
	return &Dispatcher{Registry: r}
}

// Handle routes one decoded request PDU to its handler and returns the
// response PDU to send back. version controls v1-style noSuchName
// behavior vs v2c/v3 exception markers. TRAP variants return (zero
// PDU, false) since RFC 3416 defines no response to a trap.
func (d *Dispatcher) Handle(version pdu.Version, req pdu.PDU, vf ViewFilter) (pdu.PDU, bool) {
	switch req.Type {
	case pdu.TypeGetRequest:
		return d.handleGet(version, req, vf), true
	case pdu.TypeGetNextRequest:
		return d.handleGetNext(version, req, vf), true
	case pdu.TypeGetBulkRequest:
		return d.handleGetBulk(req, vf), true
	case pdu.TypeSetRequest:
		return d.handleSet(version, req, vf), true
	case pdu.TypeInformRequest:
		return d.handleInform(req), true
	case pdu.TypeTrapV1, pdu.TypeTrapV2:
		return pdu.PDU{}, false
	default:
		return pdu.PDU{}, false
	}
}

func respondLike(req pdu.PDU) pdu.PDU {
	return pdu.PDU{
		Type:      pdu.TypeGetResponse,
		RequestID: req.RequestID,
	}
}

// handleGet implements §4.4's GET rule: each input OID is looked up
// independently; the first failure sets error_status/error_index in v1,
// while v2c/v3 tag that varbind with an exception marker and keep going.
func (d *Dispatcher) handleGet(version pdu.Version, req pdu.PDU, vf ViewFilter) pdu.PDU {
	resp := respondLike(req)
	firstFailureIndex := 0

	for i, vb := range req.VarBinds {
		oidStr := vb.OID.String()
		if !vf.AllowRead(oidStr) {
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: vb.OID, Value: pdu.NoSuchObject()})
			if firstFailureIndex == 0 {
				firstFailureIndex = i + 1
			}
			continue
		}
		v, res := d.Registry.Get(vb.OID)
		switch res {
		case mib.ResultOK:
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: vb.OID, Value: v})
		case mib.ResultNoSuchInstance:
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: vb.OID, Value: pdu.NoSuchInstance()})
			if firstFailureIndex == 0 {
				firstFailureIndex = i + 1
			}
		default:
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: vb.OID, Value: pdu.NoSuchObject()})
			if firstFailureIndex == 0 {
				firstFailureIndex = i + 1
			}
		}
	}

	if version == pdu.VersionV1 && firstFailureIndex != 0 {
		resp.VarBinds = req.VarBinds
		resp.ErrorStatus = pdu.ErrNoSuchName
		resp.ErrorIndex = firstFailureIndex
	}
	return resp
}

// handleGetNext implements §4.4's GETNEXT rule: lexicographic successor
// per input OID, endOfMibView (v2c/v3) or noSuchName (v1) when exhausted.
func (d *Dispatcher) handleGetNext(version pdu.Version, req pdu.PDU, vf ViewFilter) pdu.PDU {
	resp := respondLike(req)
	firstFailureIndex := 0

	for i, vb := range req.VarBinds {
		next, val, ok := d.nextInView(vb.OID, vf)
		if !ok {
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: vb.OID, Value: pdu.EndOfMibView()})
			if firstFailureIndex == 0 {
				firstFailureIndex = i + 1
			}
			continue
		}
		resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: next, Value: val})
	}

	if version == pdu.VersionV1 && firstFailureIndex != 0 {
		resp.ErrorStatus = pdu.ErrNoSuchName
		resp.ErrorIndex = firstFailureIndex
	}
	return resp
}

// nextInView walks GetNext forward, skipping instances VACM's read view
// excludes, until it finds a readable instance or exhausts the registry.
func (d *Dispatcher) nextInView(from ber.OID, vf ViewFilter) (ber.OID, pdu.Value, bool) {
	cur := from
	for {
		next, val, ok := d.Registry.GetNext(cur)
		if !ok {
			return nil, pdu.Value{}, false
		}
		if vf.AllowRead(next.String()) {
			return next, val, true
		}
		cur = next
	}
}

// handleGetBulk implements §4.4's GETBULK interleaving: the first
// non_repeaters OIDs produce one get-next each, then the remaining OIDs
// each produce up to max_repetitions get-nexts, column-wise interleaved
// (round 1 for every repeating OID, then round 2, ...).
func (d *Dispatcher) handleGetBulk(req pdu.PDU, vf ViewFilter) pdu.PDU {
	resp := respondLike(req)
	nonRepeaters := req.NonRepeaters()
	maxReps := req.MaxRepetitions()
	if nonRepeaters < 0 {
		nonRepeaters = 0
	}
	if nonRepeaters > len(req.VarBinds) {
		nonRepeaters = len(req.VarBinds)
	}
	if maxReps < 0 {
		maxReps = 0
	}

	cursors := make([]ber.OID, len(req.VarBinds))
	for i, vb := range req.VarBinds {
		cursors[i] = vb.OID
	}

	for i := 0; i < nonRepeaters; i++ {
		next, val, ok := d.nextInView(cursors[i], vf)
		if !ok {
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: cursors[i], Value: pdu.EndOfMibView()})
			continue
		}
		resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: next, Value: val})
		cursors[i] = next
	}

	repeating := cursors[nonRepeaters:]
	done := make([]bool, len(repeating))
	for r := 0; r < maxReps; r++ {
		allDone := true
		for i := range repeating {
			if done[i] {
				continue
			}
			next, val, ok := d.nextInView(repeating[i], vf)
			if !ok {
				resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: repeating[i], Value: pdu.EndOfMibView()})
				done[i] = true
				continue
			}
			resp.VarBinds = append(resp.VarBinds, pdu.VarBind{OID: next, Value: val})
			repeating[i] = next
			allDone = false
		}
		if allDone {
			break
		}
	}
	return resp
}

// handleSet implements §4.4's two-phase SET: validate every varbind first
// (type match, VACM write, setter exists); if any validation fails, abort
// entirely with the earliest error_status/error_index and mutate nothing.
func (d *Dispatcher) handleSet(version pdu.Version, req pdu.PDU, vf ViewFilter) pdu.PDU {
	resp := respondLike(req)

	for i, vb := range req.VarBinds {
		var res mib.Result
		if !vf.AllowWrite(vb.OID.String()) {
			res = mib.ResultNoAccess
		} else {
			res = d.Registry.Validate(vb.OID, vb.Value)
		}
		if res != mib.ResultOK {
			resp.ErrorStatus = toErrorStatus(version, res)
			resp.ErrorIndex = i + 1
			resp.VarBinds = req.VarBinds
			return resp
		}
	}

	for i, vb := range req.VarBinds {
		if res := d.Registry.Commit(vb.OID, vb.Value); res != mib.ResultOK {
			// Commit failing after a successful Validate indicates a
			// setter's own invariant rejected the value; report it at
			// that varbind without rolling back earlier commits, since
			// mib.Registry's Commit on a writable scalar is expected to
			// be side-effect-total once Validate has passed.
			resp.ErrorStatus = toErrorStatus(version, res)
			resp.ErrorIndex = i + 1
			resp.VarBinds = req.VarBinds
			return resp
		}
	}
	resp.VarBinds = req.VarBinds
	return resp
}

// toErrorStatus maps a mib.Result to the error-status code for a given
// version. RFC 1157 has no notWritable status, so a v1 SET on a read-only
// scalar reports readOnly; v2c/v3 report the RFC 3416 notWritable status
// that readOnly was split into (spec scenario 4).
func toErrorStatus(version pdu.Version, res mib.Result) pdu.ErrorStatus {
	switch res {
	case mib.ResultReadOnly:
		if version == pdu.VersionV1 {
			return pdu.ErrReadOnly
		}
		return pdu.ErrNotWritable
	case mib.ResultWrongType:
		return pdu.ErrWrongType
	case mib.ResultWrongValue:
		return pdu.ErrWrongValue
	case mib.ResultNoAccess:
		return pdu.ErrNoAccess
	case mib.ResultNoCreation:
		return pdu.ErrNoCreation
	case mib.ResultNoSuchObject, mib.ResultNoSuchInstance, mib.ResultNoSuchName:
		return pdu.ErrNoSuchName
	default:
		return pdu.ErrGenErr
	}
}

// handleInform implements §4.4's INFORM rule: acknowledge with a RESPONSE
// echoing the request-id and the original varbinds unchanged.
func (d *Dispatcher) handleInform(req pdu.PDU) pdu.PDU {
	resp := respondLike(req)
	resp.VarBinds = req.VarBinds
	return resp
}
