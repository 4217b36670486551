// Package stats provides an optional, injected collaborator that logs
// per-tick execution counts and a final run summary. It implements
// t86.TickObserver so the CPU core never depends on logging directly.
package stats

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/t86/t86vm/internal/t86"
)

// Logger counts executed instructions per opcode and logs a summary when
// the CPU halts. Build one with New (the zero value has no logger or
// counter map and is not usable); Start should be called once before
// wiring it into a CPU.
type Logger struct {
	log   *log.Logger
	start time.Time
	total uint64
	byOp  map[t86.Opcode]uint64
}

// New builds a Logger writing to l (logrus's standard logger if l is nil).
func New(l *log.Logger) *Logger {
	if l == nil {
		l = log.StandardLogger()
	}
	return &Logger{log: l, byOp: make(map[t86.Opcode]uint64)}
}

// Start resets counters and records the wall-clock start time. Call this
// right before the first CPU.Tick.
func (s *Logger) Start() {
	s.start = time.Now()
	s.total = 0
	s.byOp = make(map[t86.Opcode]uint64)
}

// OnTick implements t86.TickObserver.
func (s *Logger) OnTick(pc uint64, instr t86.Instruction) {
	s.total++
	s.byOp[instr.Op]++
	s.log.WithFields(log.Fields{
		"pc":    pc,
		"instr": instr.Op.String(),
		"total": s.total,
	}).Debug("tick")
}

// OnHalt implements t86.TickObserver, logging a final summary.
func (s *Logger) OnHalt(ticks int) {
	elapsed := time.Since(s.start)
	s.log.WithFields(log.Fields{
		"ticks":   ticks,
		"elapsed": elapsed,
	}).Info("program halted")
	for op, n := range s.byOp {
		s.log.WithFields(log.Fields{"instr": op.String(), "count": n}).Debug("opcode histogram")
	}
}

// Total returns the number of instructions observed so far.
func (s *Logger) Total() uint64 { return s.total }
