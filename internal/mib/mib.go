// Package mib implements the registry of managed objects an agent exposes:
// scalars and table columns, looked up and walked in strict lexicographic
// OID order. The registry is a plain value constructed at startup and
// guarded by its own mutex rather than a package-level singleton, per the
// "singletons become values" design guidance this module follows throughout.
package mib

import (
	"sort"
	"sync"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
)

// Result classifies the outcome of a Get/Set against the registry, mirroring
// the non-exceptional SNMP error statuses a dispatcher must translate into
// PDU error-status/varbind markers.
type Result int

const (
	ResultOK Result = iota
	ResultNoSuchObject
	ResultNoSuchInstance
	ResultReadOnly
	ResultWrongType
	ResultWrongValue
	ResultNoAccess
	ResultNoCreation
	ResultNoSuchName
)

// Getter returns the current value of a scalar or, for a table column, the
// value at the given trailing index. idx is nil for scalars.
type Getter func(idx []uint32) (pdu.Value, bool)

// Setter commits v at idx (nil for scalars). It is only ever invoked during
// phase two of a SET — after Validate has already approved every varbind in
// the request, per the dispatcher's two-phase commit (§4.4, invariant 4).
type Setter func(idx []uint32, v pdu.Value) Result

// entry is one registered scalar or table-column range. Table ranges match
// any instance whose trailing index, after the base OID, is a single
// sub-identifier in [1, MaxIndex] (this registry does not model
// multi-dimensional table indices; every table in the standard and
// supplemental MIBs here uses a single integer index).
type entry struct {
	base      ber.OID
	isTable   bool
	maxIndex  uint32
	readOnly  bool
	valueTag  ber.Tag
	get       Getter
	set       Setter
}

// Registry is the MIB backing store: an ordered set of scalar and table
// entries, kept sorted by base OID so Get/GetNext/Set can binary-search.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Replace atomically swaps this registry's entries for other's, the
// mechanism a SIGHUP configuration reload uses to repopulate the MIB
// without disturbing in-flight Get/GetNext/Set calls any longer than the
// single lock acquisition takes.
func (r *Registry) Replace(other *Registry) {
	other.mu.RLock()
	entries := append([]entry(nil), other.entries...)
	other.mu.RUnlock()

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// RegisterScalar adds a scalar entry whose instance OID is base.0.
// valueTag is the BER tag SET requests must supply; it is ignored when
// readOnly is true and set is nil.
func (r *Registry) RegisterScalar(base ber.OID, valueTag ber.Tag, readOnly bool, get Getter, set Setter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(entry{base: base.Clone(), isTable: false, valueTag: valueTag, readOnly: readOnly, get: get, set: set})
}

// RegisterTable adds a table-column entry whose instance OIDs are
// base.1 .. base.maxIndex.
func (r *Registry) RegisterTable(base ber.OID, maxIndex uint32, valueTag ber.Tag, readOnly bool, get Getter, set Setter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(entry{base: base.Clone(), isTable: true, maxIndex: maxIndex, valueTag: valueTag, readOnly: readOnly, get: get, set: set})
}

// insert keeps entries sorted by base OID; callers must hold the write lock.
func (r *Registry) insert(e entry) {
	i := sort.Search(len(r.entries), func(i int) bool {
		return ber.Compare(r.entries[i].base, e.base) >= 0
	})
	r.entries = append(r.entries, entry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
}

// Get resolves oid to a value. Per the core specification's policy: an
// exact match on a registered instance yields its value; an OID that falls
// under a registered base but names no live instance (table index out of
// range, or a getter returning false — RFC-speak for "row does not exist
// yet") yields NoSuchInstance; anything else yields NoSuchObject.
func (r *Registry) Get(oid ber.OID) (pdu.Value, Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if !e.isTable {
			if ber.Equal(oid, e.base.Append(0)) {
				if v, ok := e.get(nil); ok {
					return v, ResultOK
				}
				return pdu.Value{}, ResultNoSuchInstance
			}
			if ber.HasPrefix(oid, e.base) {
				// Named the object itself, or an OID beneath it other than
				// its .0 instance.
				return pdu.Value{}, ResultNoSuchInstance
			}
			continue
		}
		if len(oid) == len(e.base)+1 && ber.HasPrefix(oid, e.base) {
			idx := oid[len(oid)-1]
			if idx < 1 || idx > e.maxIndex {
				return pdu.Value{}, ResultNoSuchInstance
			}
			if v, ok := e.get([]uint32{idx}); ok {
				return v, ResultOK
			}
			return pdu.Value{}, ResultNoSuchInstance
		}
		if ber.HasPrefix(oid, e.base) {
			return pdu.Value{}, ResultNoSuchInstance
		}
	}
	return pdu.Value{}, ResultNoSuchObject
}

// GetNext returns the lexicographic successor instance strictly after oid
// that currently holds a value, or ok=false at end of MIB view. Passing the
// empty OID starts the walk at the very first registered instance.
func (r *Registry) GetNext(oid ber.OID) (ber.OID, pdu.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if !e.isTable {
			inst := e.base.Append(0)
			if ber.Compare(inst, oid) > 0 {
				if v, ok := e.get(nil); ok {
					return inst, v, true
				}
			}
			continue
		}
		start := uint32(1)
		if ber.HasPrefix(oid, e.base) && len(oid) == len(e.base)+1 {
			if oid[len(oid)-1] >= e.maxIndex {
				continue
			}
			start = oid[len(oid)-1] + 1
		} else if ber.Compare(e.base, oid) <= 0 && !ber.HasPrefix(oid, e.base) {
			// oid sorts at or after this entire table range; nothing here
			// can be the successor, but a later registered entry might be.
			continue
		}
		for idx := start; idx <= e.maxIndex; idx++ {
			inst := e.base.Append(idx)
			if ber.Compare(inst, oid) <= 0 {
				continue
			}
			if v, ok := e.get([]uint32{idx}); ok {
				return inst, v, true
			}
		}
	}
	return nil, pdu.Value{}, false
}

// locate finds the entry and sub-index matching oid; callers must hold
// r.mu. ok is false when no registered entry names this instance at all.
func (r *Registry) locate(oid ber.OID) (e entry, idx []uint32, ok bool) {
	for _, cand := range r.entries {
		switch {
		case !cand.isTable && ber.Equal(oid, cand.base.Append(0)):
			return cand, nil, true
		case cand.isTable && len(oid) == len(cand.base)+1 && ber.HasPrefix(oid, cand.base):
			i := oid[len(oid)-1]
			if i < 1 || i > cand.maxIndex {
				return entry{}, nil, false
			}
			return cand, []uint32{i}, true
		}
	}
	return entry{}, nil, false
}

// Validate checks that oid names a writable instance and that v carries the
// tag that instance expects, without mutating anything. The dispatcher must
// call Validate on every varbind of a SET before committing any of them
// (§4.4 invariant 4: either all varbinds commit or none do).
func (r *Registry) Validate(oid ber.OID, v pdu.Value) Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, _, ok := r.locate(oid)
	if !ok {
		return ResultNoSuchName
	}
	if e.readOnly || e.set == nil {
		return ResultReadOnly
	}
	if e.valueTag != 0 && v.Tag != e.valueTag {
		return ResultWrongType
	}
	return ResultOK
}

// Commit applies a previously validated value. Callers must have already
// confirmed every varbind in the same SET validates successfully.
func (r *Registry) Commit(oid ber.OID, v pdu.Value) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, idx, ok := r.locate(oid)
	if !ok {
		return ResultNoSuchName
	}
	if e.readOnly || e.set == nil {
		return ResultReadOnly
	}
	return e.set(idx, v)
}
