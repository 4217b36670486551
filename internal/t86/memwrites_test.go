package t86

import "testing"

func TestMemoryWritesManagerForwarding(t *testing.T) {
	m := NewMemoryWritesManager()
	ram := NewRAM(16)

	id := m.RegisterPendingWriteAt(4)
	m.SpecifyValue(id, 99)

	w, ok := m.PreviousWrite(4, m.CurrentID())
	assert(t, ok, "expected a pending write to be visible to PreviousWrite")
	assert(t, *w.Value == 99, "expected forwarded value 99, got %d", *w.Value)

	m.StartWriting(id, ram)
	m.RemoveFinished(ram)
	assert(t, m.liveWriteCount() == 0, "expected no live writes after reaping, got %d", m.liveWriteCount())
	assert(t, ram.Read(4) == 99, "expected RAM to hold the written value, got %d", ram.Read(4))
}

func TestMemoryWritesManagerUnspecifiedThenSpecified(t *testing.T) {
	m := NewMemoryWritesManager()
	id := m.RegisterPendingWrite()
	assert(t, m.liveWriteCount() == 1, "expected one live write, got %d", m.liveWriteCount())

	m.SpecifyAddress(id, 8)
	m.SpecifyValue(id, 7)

	w, ok := m.PreviousWrite(8, m.CurrentID())
	assert(t, ok, "expected the newly specified write to be visible")
	assert(t, *w.Value == 7, "expected value 7, got %d", *w.Value)
}

func TestMemoryWritesManagerPreviousWritePanicsOnUnresolved(t *testing.T) {
	m := NewMemoryWritesManager()
	m.RegisterPendingWrite() // address never specified

	defer func() {
		r := recover()
		assert(t, r != nil, "expected PreviousWrite to panic on an unresolved write")
		_, ok := r.(InternalInvariantViolation)
		assert(t, ok, "expected an InternalInvariantViolation, got %T", r)
	}()
	m.PreviousWrite(0, m.CurrentID())
}

func TestMemoryWritesManagerRemovePendingKeepsWriting(t *testing.T) {
	m := NewMemoryWritesManager()
	ram := NewRAM(16)

	pendingID := m.RegisterPendingWriteAt(0)
	m.SpecifyValue(pendingID, 1)

	writingID := m.RegisterPendingWriteAt(8)
	m.SpecifyValue(writingID, 2)
	m.StartWriting(writingID, ram)

	m.RemovePending()

	_, stillPending := m.PreviousWrite(0, m.CurrentID())
	assert(t, !stillPending, "expected the pending write at addr 0 to be cancelled")
	w, stillWriting := m.PreviousWrite(8, m.CurrentID())
	assert(t, stillWriting, "expected the in-flight write at addr 8 to survive a flush")
	assert(t, *w.Value == 2, "expected value 2, got %d", *w.Value)
}

func TestMemoryWritesManagerDrainAll(t *testing.T) {
	m := NewMemoryWritesManager()
	ram := NewRAM(16)

	id := m.RegisterPendingWriteAt(2)
	m.SpecifyValue(id, 55)

	m.DrainAll(ram)

	assert(t, ram.Read(2) == 55, "expected DrainAll to flush the pending write to RAM, got %d", ram.Read(2))
	assert(t, m.liveWriteCount() == 0, "expected DrainAll to leave no live writes, got %d", m.liveWriteCount())
}

func TestMemoryWritesManagerOrdersByID(t *testing.T) {
	m := NewMemoryWritesManager()

	id1 := m.RegisterPendingWriteAt(0)
	m.SpecifyValue(id1, 1)
	id2 := m.RegisterPendingWriteAt(0)
	m.SpecifyValue(id2, 2)

	w, ok := m.PreviousWrite(0, id1)
	assert(t, ok, "expected a write visible at maxID=id1")
	assert(t, *w.Value == 1, "PreviousWrite(addr, id1) should see the first write, got %d", *w.Value)

	w, ok = m.PreviousWrite(0, id2)
	assert(t, ok, "expected a write visible at maxID=id2")
	assert(t, *w.Value == 2, "PreviousWrite(addr, id2) should see the second (latest) write, got %d", *w.Value)
}
