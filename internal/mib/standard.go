package mib

import (
	"sync/atomic"
	"time"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
)

var (
	oidSystem      = ber.OID{1, 3, 6, 1, 2, 1, 1}
	oidSysDescr    = oidSystem.Append(1)
	oidSysObjectID = oidSystem.Append(2)
	oidSysUpTime   = oidSystem.Append(3)
	oidSysContact  = oidSystem.Append(4)
	oidSysName     = oidSystem.Append(5)
	oidSysLocation = oidSystem.Append(6)
	oidSysServices = oidSystem.Append(7)

	oidInterfaces  = ber.OID{1, 3, 6, 1, 2, 1, 2}
	oidIfNumber    = oidInterfaces.Append(1)
	oidIfTable     = oidInterfaces.Append(2, 1)
	oidIfIndex     = oidIfTable.Append(1)
	oidIfDescr     = oidIfTable.Append(2)
	oidIfType      = oidIfTable.Append(3)
	oidIfMtu       = oidIfTable.Append(4)
	oidIfSpeed     = oidIfTable.Append(5)
	oidIfPhysAddr  = oidIfTable.Append(6)
	oidIfOperStat  = oidIfTable.Append(8)
	oidIfInOctets  = oidIfTable.Append(10)
	oidIfOutOctets = oidIfTable.Append(16)

	oidSNMPGroup              = ber.OID{1, 3, 6, 1, 2, 1, 11}
	oidSNMPInPkts             = oidSNMPGroup.Append(1)
	oidSNMPOutPkts            = oidSNMPGroup.Append(2)
	oidSNMPInBadVersions      = oidSNMPGroup.Append(3)
	oidSNMPInBadCommunityName = oidSNMPGroup.Append(4)
	oidSNMPInBadCommunityUse  = oidSNMPGroup.Append(5)
	oidSNMPInASNParseErrs     = oidSNMPGroup.Append(6)
)

// SystemInfo holds the writable/configurable system-group scalars. sysDescr
// and sysObjectID are set once at startup and read-only thereafter;
// sysContact/sysName/sysLocation stay writable for the module's lifetime,
// per the resolved read_only Open Question (see DESIGN.md).
type SystemInfo struct {
	Descr      string
	ObjectID   ber.OID
	Services   int64
	Contact    atomic.Pointer[string]
	Name       atomic.Pointer[string]
	Location   atomic.Pointer[string]
	bootTime   time.Time
}

func NewSystemInfo(descr string, objectID ber.OID, services int64) *SystemInfo {
	s := &SystemInfo{Descr: descr, ObjectID: objectID, Services: services, bootTime: time.Now()}
	empty := ""
	s.Contact.Store(&empty)
	s.Name.Store(&empty)
	s.Location.Store(&empty)
	return s
}

// Interface describes one row of ifTable.
type Interface struct {
	Index     int64
	Descr     string
	Type      int64
	MTU       int64
	Speed     uint32
	PhysAddr  [6]byte
	OperUp    bool
	InOctets  func() uint32
	OutOctets func() uint32
}

// Counters is the snmp group's read-only traffic counters, incremented by
// the security front-end and dispatcher (see internal/metrics for the
// broader statistics surface; these six are the standardized subset the
// MIB itself must expose).
type Counters struct {
	InPkts             atomic.Uint32
	OutPkts            atomic.Uint32
	InBadVersions      atomic.Uint32
	InBadCommunityName atomic.Uint32
	InBadCommunityUse  atomic.Uint32
	InASNParseErrs     atomic.Uint32
}

func writableString(slot *atomic.Pointer[string]) (Getter, Setter) {
	get := func(idx []uint32) (pdu.Value, bool) {
		return pdu.OctetStringValue([]byte(*slot.Load())), true
	}
	set := func(idx []uint32, v pdu.Value) Result {
		s := string(v.Content)
		slot.Store(&s)
		return ResultOK
	}
	return get, set
}

// RegisterStandard populates the system, interfaces, and snmp groups that
// every conformant agent exposes (§4.3). ifaces may be empty; ifNumber and
// ifTable then report zero rows rather than being omitted, matching a real
// agent with no configured interfaces rather than a malformed MIB.
func RegisterStandard(r *Registry, sys *SystemInfo, ifaces []Interface, counters *Counters) {
	r.RegisterScalar(oidSysDescr, ber.TagOctetStr, true, func(idx []uint32) (pdu.Value, bool) {
		return pdu.OctetStringValue([]byte(sys.Descr)), true
	}, nil)
	r.RegisterScalar(oidSysObjectID, ber.TagOID, true, func(idx []uint32) (pdu.Value, bool) {
		return pdu.OIDValue(sys.ObjectID), true
	}, nil)
	r.RegisterScalar(oidSysUpTime, ber.TagTimeTicks, true, func(idx []uint32) (pdu.Value, bool) {
		hundredths := uint32(time.Since(sys.bootTime).Milliseconds() / 10)
		return pdu.TimeTicksValue(hundredths), true
	}, nil)
	contactGet, contactSet := writableString(&sys.Contact)
	r.RegisterScalar(oidSysContact, ber.TagOctetStr, false, contactGet, contactSet)
	nameGet, nameSet := writableString(&sys.Name)
	r.RegisterScalar(oidSysName, ber.TagOctetStr, false, nameGet, nameSet)
	locGet, locSet := writableString(&sys.Location)
	r.RegisterScalar(oidSysLocation, ber.TagOctetStr, false, locGet, locSet)
	r.RegisterScalar(oidSysServices, ber.TagInteger, true, func(idx []uint32) (pdu.Value, bool) {
		return pdu.IntegerValue(sys.Services), true
	}, nil)

	n := int64(len(ifaces))
	r.RegisterScalar(oidIfNumber, ber.TagInteger, true, func(idx []uint32) (pdu.Value, bool) {
		return pdu.IntegerValue(n), true
	}, nil)

	ifRow := func(i uint32) (Interface, bool) {
		if i < 1 || int(i) > len(ifaces) {
			return Interface{}, false
		}
		return ifaces[i-1], true
	}
	max := uint32(len(ifaces))
	r.RegisterTable(oidIfIndex, max, ber.TagInteger, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		return pdu.IntegerValue(row.Index), true
	}, nil)
	r.RegisterTable(oidIfDescr, max, ber.TagOctetStr, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		return pdu.OctetStringValue([]byte(row.Descr)), true
	}, nil)
	r.RegisterTable(oidIfType, max, ber.TagInteger, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		return pdu.IntegerValue(row.Type), true
	}, nil)
	r.RegisterTable(oidIfMtu, max, ber.TagInteger, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		return pdu.IntegerValue(row.MTU), true
	}, nil)
	r.RegisterTable(oidIfSpeed, max, ber.TagGauge32, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		return pdu.GaugeValue(row.Speed), true
	}, nil)
	r.RegisterTable(oidIfPhysAddr, max, ber.TagOctetStr, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		return pdu.OctetStringValue(row.PhysAddr[:]), true
	}, nil)
	r.RegisterTable(oidIfOperStat, max, ber.TagInteger, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok {
			return pdu.Value{}, false
		}
		if row.OperUp {
			return pdu.IntegerValue(1), true
		}
		return pdu.IntegerValue(2), true
	}, nil)
	r.RegisterTable(oidIfInOctets, max, ber.TagCounter32, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok || row.InOctets == nil {
			return pdu.Value{}, false
		}
		return pdu.Counter32Value(row.InOctets()), true
	}, nil)
	r.RegisterTable(oidIfOutOctets, max, ber.TagCounter32, true, func(idx []uint32) (pdu.Value, bool) {
		row, ok := ifRow(idx[0])
		if !ok || row.OutOctets == nil {
			return pdu.Value{}, false
		}
		return pdu.Counter32Value(row.OutOctets()), true
	}, nil)

	counterScalar := func(oid ber.OID, c *atomic.Uint32) {
		r.RegisterScalar(oid, ber.TagCounter32, true, func(idx []uint32) (pdu.Value, bool) {
			return pdu.Counter32Value(c.Load()), true
		}, nil)
	}
	counterScalar(oidSNMPInPkts, &counters.InPkts)
	counterScalar(oidSNMPOutPkts, &counters.OutPkts)
	counterScalar(oidSNMPInBadVersions, &counters.InBadVersions)
	counterScalar(oidSNMPInBadCommunityName, &counters.InBadCommunityName)
	counterScalar(oidSNMPInBadCommunityUse, &counters.InBadCommunityUse)
	counterScalar(oidSNMPInASNParseErrs, &counters.InASNParseErrs)
}
