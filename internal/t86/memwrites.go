package t86

import "sort"

// writeState is the lifecycle stage of a MemoryWrite: Unspecified -> Pending
// (address known) -> Writing (issued to RAM) -> Finished (RAM confirmed,
// then reaped).
type writeState int

const (
	stateUnspecified writeState = iota
	statePending
	stateWriting
)

// MemoryWrite is a store dispatched by the pipeline. Address and value may
// arrive after the write is created, as pipeline stages resolve them.
type MemoryWrite struct {
	ID      uint64
	Address *uint64
	Value   *uint64
	State   writeState

	ramWriteID uint64
}

// MemoryWritesManager tracks in-flight stores so that younger loads observe
// the correct value even before a store has retired to RAM.
type MemoryWritesManager struct {
	writesMap         map[uint64][]*MemoryWrite // addr -> writes sorted by id ascending
	writeAddressMap   map[uint64]uint64         // writeId -> addr
	unspecifiedWrites map[uint64]struct{}       // writeId -> {} for address-unknown writes
	byID              map[uint64]*MemoryWrite   // every live write, keyed by id
	currentID         uint64
}

func NewMemoryWritesManager() *MemoryWritesManager {
	return &MemoryWritesManager{
		writesMap:         make(map[uint64][]*MemoryWrite),
		writeAddressMap:   make(map[uint64]uint64),
		unspecifiedWrites: make(map[uint64]struct{}),
		byID:              make(map[uint64]*MemoryWrite),
	}
}

// RegisterPendingWrite creates an address-unknown write and returns its id.
func (m *MemoryWritesManager) RegisterPendingWrite() uint64 {
	m.currentID++
	id := m.currentID
	w := &MemoryWrite{ID: id, State: stateUnspecified}
	m.unspecifiedWrites[id] = struct{}{}
	m.byID[id] = w
	return id
}

// RegisterPendingWriteAt creates an address-known write at addr and
// returns its id.
func (m *MemoryWritesManager) RegisterPendingWriteAt(addr uint64) uint64 {
	m.currentID++
	id := m.currentID
	a := addr
	w := &MemoryWrite{ID: id, Address: &a, State: statePending}
	m.insertSorted(addr, w)
	m.writeAddressMap[id] = addr
	m.byID[id] = w
	return id
}

func (m *MemoryWritesManager) insertSorted(addr uint64, w *MemoryWrite) {
	list := m.writesMap[addr]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= w.ID })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = w
	m.writesMap[addr] = list
}

// SpecifyAddress moves a write from unspecified to pending-at-addr. Fatal
// (InternalInvariantViolation) if id is unknown or already specified.
func (m *MemoryWritesManager) SpecifyAddress(id, addr uint64) {
	if _, ok := m.unspecifiedWrites[id]; !ok {
		invariantViolation("specifyAddress: id %d is unknown or already specified", id)
	}
	delete(m.unspecifiedWrites, id)

	w := m.byID[id]
	a := addr
	w.Address = &a
	w.State = statePending
	m.insertSorted(addr, w)
	m.writeAddressMap[id] = addr
}

// SpecifyValue annotates a write with its 64-bit value. Fatal if id is not
// found (the write must already have an address).
func (m *MemoryWritesManager) SpecifyValue(id, value uint64) {
	w, ok := m.byID[id]
	if !ok {
		invariantViolation("specifyValue: unknown write id %d", id)
	}
	if _, ok := m.writeAddressMap[id]; !ok {
		invariantViolation("specifyValue: write id %d has no address yet", id)
	}
	v := value
	w.Value = &v
}

// PreviousWrite returns the latest write to addr with id <= maxID.
// Precondition: no write with id <= maxID is still address-unspecified -
// violating this is a programmer error (abort), since it is what makes
// load forwarding correct.
func (m *MemoryWritesManager) PreviousWrite(addr, maxID uint64) (*MemoryWrite, bool) {
	for id := range m.unspecifiedWrites {
		if id <= maxID {
			invariantViolation("previousWrite: write id %d is unresolved but <= maxId %d", id, maxID)
		}
	}

	list := m.writesMap[addr]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID <= maxID {
			return list[i], true
		}
	}
	return nil, false
}

// StartWriting issues a pending write (which must already have a value) to
// RAM and transitions it to Writing.
func (m *MemoryWritesManager) StartWriting(id uint64, ram *RAM) {
	w, ok := m.byID[id]
	if !ok {
		invariantViolation("startWriting: unknown write id %d", id)
	}
	if w.State != statePending {
		invariantViolation("startWriting: write id %d is not pending", id)
	}
	if w.Value == nil {
		invariantViolation("startWriting: write id %d has no value", id)
	}
	w.ramWriteID = ram.Write(*w.Address, *w.Value)
	w.State = stateWriting
}

// RemoveFinished reaps writes that RAM reports as completed, erasing them
// from every index.
func (m *MemoryWritesManager) RemoveFinished(ram *RAM) {
	for addr, list := range m.writesMap {
		kept := list[:0]
		for _, w := range list {
			if w.State == stateWriting && ram.IsDone(w.ramWriteID) {
				delete(m.writeAddressMap, w.ID)
				delete(m.byID, w.ID)
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(m.writesMap, addr)
		} else {
			m.writesMap[addr] = kept
		}
	}
}

// RemovePending cancels all pending (and still-unspecified) writes on a
// pipeline flush. Writing-state writes survive - they are already
// in-flight in RAM.
func (m *MemoryWritesManager) RemovePending() {
	for addr, list := range m.writesMap {
		kept := list[:0]
		for _, w := range list {
			if w.State == statePending {
				delete(m.writeAddressMap, w.ID)
				delete(m.byID, w.ID)
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(m.writesMap, addr)
		} else {
			m.writesMap[addr] = kept
		}
	}
	for id := range m.unspecifiedWrites {
		delete(m.byID, id)
	}
	m.unspecifiedWrites = make(map[uint64]struct{})
}

// DrainAll forces every pending write that already has a value to Writing,
// then reaps whatever RAM has finished - used by HALT to drain the pipeline.
// Pending writes without a value and address-unspecified writes are left
// in place.
func (m *MemoryWritesManager) DrainAll(ram *RAM) {
	for _, list := range m.writesMap {
		for _, w := range list {
			if w.State == statePending && w.Value != nil {
				m.StartWriting(w.ID, ram)
			}
		}
	}
	m.RemoveFinished(ram)
}

// CurrentID returns the id most recently handed out by RegisterPendingWrite
// or RegisterPendingWriteAt - the upper bound a reader should pass to
// PreviousWrite to see every store issued so far.
func (m *MemoryWritesManager) CurrentID() uint64 { return m.currentID }

// liveWriteCount returns writeAddressMap.size() + unspecifiedWrites.size(),
// a testable invariant: every live write is either unspecified or has a
// known address, exclusively.
func (m *MemoryWritesManager) liveWriteCount() int {
	return len(m.writeAddressMap) + len(m.unspecifiedWrites)
}
