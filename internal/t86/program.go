package t86

// Program is an ordered sequence of instructions indexed by PC (zero-based),
// plus an initial data image copied into RAM starting at address 0 before
// execution. Instrs owns a contiguous vector of Instruction values - no
// aliasing, no separate per-instruction allocation.
type Program struct {
	Instrs []Instruction
	Data   []int64

	// DebugSym maps instruction address -> original source line text. The
	// parser does not populate it; it is nil for programs built by
	// ParseSource.
	DebugSym map[uint64]string
}
