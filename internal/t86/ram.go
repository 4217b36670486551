package t86

// DefaultRAMWords is used when the host does not configure a RAM size.
const DefaultRAMWords = 1 << 16

// ramFault is panicked by RAM on an out-of-range access. It is recovered
// by CPU.Tick and converted into a RuntimeFault - never an
// InternalInvariantViolation, since an out-of-range guest access is a
// guest-program error, not a simulator bug.
type ramFault struct {
	addr uint64
}

// RAM is a flat array of 64-bit words. Writes are synchronous from RAM's
// own point of view - latency and in-flight visibility are the memory
// writes manager's concern (memwrites.go), not RAM's.
type RAM struct {
	words   []uint64
	nextID  uint64
	doneIDs map[uint64]struct{}
}

func NewRAM(words int) *RAM {
	if words <= 0 {
		words = DefaultRAMWords
	}
	return &RAM{
		words:   make([]uint64, words),
		doneIDs: make(map[uint64]struct{}),
	}
}

func (r *RAM) Size() int { return len(r.words) }

func (r *RAM) checkAddr(addr uint64) {
	if addr >= uint64(len(r.words)) {
		panic(ramFault{addr: addr})
	}
}

// Read returns the word stored at addr.
func (r *RAM) Read(addr uint64) uint64 {
	r.checkAddr(addr)
	return r.words[addr]
}

// Write stores value at addr and returns a monotonically increasing
// RAM-level write-id. The write completes immediately (this model has no
// memory latency of its own); the returned id lets MemoryWritesManager
// reap the corresponding MemoryWrite via RemoveFinished.
func (r *RAM) Write(addr, value uint64) uint64 {
	r.checkAddr(addr)
	r.words[addr] = value
	r.nextID++
	id := r.nextID
	r.doneIDs[id] = struct{}{}
	return id
}

// IsDone reports whether the RAM-level write identified by id has
// completed. Always true the tick after Write returns it, since this RAM
// model has no latency - present so MemoryWritesManager.RemoveFinished
// has a real predicate to query instead of assuming completion.
func (r *RAM) IsDone(id uint64) bool {
	_, ok := r.doneIDs[id]
	return ok
}

// loadImage copies data into RAM starting at address 0, for the initial
// data-section image.
func (r *RAM) loadImage(data []int64) {
	for i, v := range data {
		if i >= len(r.words) {
			break
		}
		r.words[i] = uint64(v)
	}
}
