package t86

import (
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

// CPU is the execution core: register file, RAM, the in-flight write
// manager, and the program being run. One Tick fetches, decodes and
// executes a single instruction, issuing any memory operand through the
// write manager so later ticks (and later operands in the same tick
// stream) observe forwarded values rather than stale RAM contents.
type CPU struct {
	Regs    Registers
	RAM     *RAM
	Writes  *MemoryWritesManager
	Program *Program
	Halted  bool

	Stdin  io.RuneReader
	Stdout io.Writer

	Logger *logrus.Logger

	// Observer, when set, is notified of every executed instruction and of
	// the final halt. internal/stats implements this to log per-tick
	// counts without t86 importing that package.
	Observer TickObserver

	ticks int // instructions executed since Start
}

// TickObserver receives per-instruction and halt notifications from a CPU.
type TickObserver interface {
	OnTick(pc uint64, instr Instruction)
	OnHalt(ticks int)
}

// NewCPU builds a CPU for prog with a freshly allocated RAM of ramWords
// words (DefaultRAMWords when ramWords <= 0).
func NewCPU(prog *Program, ramWords int, stdin io.RuneReader, stdout io.Writer) *CPU {
	return &CPU{
		Program: prog,
		RAM:     NewRAM(ramWords),
		Writes:  NewMemoryWritesManager(),
		Stdin:   stdin,
		Stdout:  stdout,
		Logger:  logrus.StandardLogger(),
	}
}

// Start resets the register file, loads the program's data image into
// RAM, and positions the instruction pointer at the first instruction.
func (c *CPU) Start() {
	c.Regs.reset(int64(c.RAM.Size()))
	c.RAM.loadImage(c.Program.Data)
	c.Halted = false
	c.ticks = 0
}

func (c *CPU) jumpTarget(op Operand) int64 {
	if op.IsReg() {
		return c.Regs.Read(op.Reg)
	}
	return op.Imm
}

func (c *CPU) readMem(addr uint64) uint64 {
	if w, ok := c.Writes.PreviousWrite(addr, c.Writes.CurrentID()); ok && w.Value != nil {
		return *w.Value
	}
	return c.RAM.Read(addr)
}

func (c *CPU) writeMem(addr, value uint64) {
	id := c.Writes.RegisterPendingWriteAt(addr)
	c.Writes.SpecifyValue(id, value)
	c.Writes.StartWriting(id, c.RAM)
}

func (c *CPU) loadOperand(op Operand) int64 {
	switch {
	case op.IsImm():
		return op.Imm
	case op.IsReg():
		return c.Regs.Read(op.Reg)
	case op.IsMem():
		return int64(c.readMem(op.Mem.Resolve(&c.Regs)))
	default:
		invariantViolation("loadOperand: %s has no integer value", op)
		return 0
	}
}

func (c *CPU) loadFloatOperand(op Operand) float64 {
	switch {
	case op.IsFloatImm():
		return op.FloatImm
	case op.IsFReg():
		return c.Regs.ReadFloat(op.FReg)
	case op.IsMem():
		return math.Float64frombits(c.readMem(op.Mem.Resolve(&c.Regs)))
	default:
		invariantViolation("loadFloatOperand: %s has no float value", op)
		return 0
	}
}

func (c *CPU) storeOperand(op Operand, value int64) {
	switch {
	case op.IsReg():
		c.Regs.Write(op.Reg, value)
	case op.IsMem():
		c.writeMem(op.Mem.Resolve(&c.Regs), uint64(value))
	default:
		invariantViolation("storeOperand: %s is not a valid destination", op)
	}
}

func (c *CPU) push(v int64) {
	c.Regs.SP--
	c.writeMem(uint64(c.Regs.SP), uint64(v))
}

func (c *CPU) pop() int64 {
	v := int64(c.readMem(uint64(c.Regs.SP)))
	c.Regs.SP++
	return v
}

func (c *CPU) pushFloat(v float64) {
	c.Regs.SP--
	c.writeMem(uint64(c.Regs.SP), math.Float64bits(v))
}

func (c *CPU) popFloat() float64 {
	bits := c.readMem(uint64(c.Regs.SP))
	c.Regs.SP++
	return math.Float64frombits(bits)
}

// Tick executes exactly one instruction. It recovers ramFault as a
// RuntimeFault and logs then re-raises InternalInvariantViolation, since
// the latter signals a bug in the simulator rather than a guest fault.
func (c *CPU) Tick() (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch v := r.(type) {
		case ramFault:
			err = newRuntimeFault(FaultSegmentationFault, uint64(c.Regs.IP), "address %d out of range [0, %d)", v.addr, c.RAM.Size())
		case InternalInvariantViolation:
			c.Logger.WithField("pc", c.Regs.IP).Error(v.Error())
			panic(v)
		default:
			panic(r)
		}
	}()
	return c.tick()
}

func (c *CPU) tick() error {
	if c.Halted {
		return nil
	}

	pc := c.Regs.IP
	if pc < 0 || pc >= int64(len(c.Program.Instrs)) {
		return newRuntimeFault(FaultSegmentationFault, uint64(pc), "instruction pointer %d out of bounds", pc)
	}
	instr := c.Program.Instrs[pc]
	nextIP := pc + 1
	branched := false

	if c.Observer != nil {
		c.Observer.OnTick(uint64(pc), instr)
	}
	c.ticks++

	if instr.Op.isJcc() {
		if c.Regs.branchTaken(jccCond[instr.Op]) {
			nextIP = c.jumpTarget(instr.Operands[0])
			branched = true
		}
	} else if err := c.execute(instr, &nextIP, &branched); err != nil {
		return err
	}

	if c.Halted {
		if c.Observer != nil {
			c.Observer.OnHalt(c.ticks)
		}
		return nil
	}
	if branched {
		c.Writes.RemovePending()
	}
	c.Regs.IP = nextIP
	c.Writes.RemoveFinished(c.RAM)
	return nil
}

func (c *CPU) execute(instr Instruction, nextIP *int64, branched *bool) error {
	op0, op1 := instr.Operands[0], instr.Operands[1]

	switch instr.Op {
	case NOP, BREAK:
		// BREAK reaches here only when no host debugger intercepted it first.

	case MOV:
		c.storeOperand(op0, c.loadOperand(op1))

	case ADD:
		x, y := c.Regs.Read(op0.Reg), c.loadOperand(op1)
		r := x + y
		c.Regs.setArithFlags(x, y, r, false)
		c.Regs.Write(op0.Reg, r)

	case SUB, CMP:
		x, y := c.Regs.Read(op0.Reg), c.loadOperand(op1)
		r := x - y
		c.Regs.setArithFlags(x, y, r, true)
		if instr.Op == SUB {
			c.Regs.Write(op0.Reg, r)
		}

	case INC:
		x := c.Regs.Read(op0.Reg)
		r := x + 1
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case DEC:
		x := c.Regs.Read(op0.Reg)
		r := x - 1
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case NEG:
		r := -c.Regs.Read(op0.Reg)
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case MUL:
		x, y := uint64(c.Regs.Read(op0.Reg)), uint64(c.loadOperand(op1))
		r := int64(x * y)
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case IMUL:
		x, y := c.Regs.Read(op0.Reg), c.loadOperand(op1)
		r := x * y
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case DIV:
		x, y := uint64(c.Regs.Read(op0.Reg)), uint64(c.loadOperand(op1))
		if y == 0 {
			return newRuntimeFault(FaultDivisionByZero, uint64(c.Regs.IP), "division by zero")
		}
		r := int64(x / y)
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case IDIV:
		x, y := c.Regs.Read(op0.Reg), c.loadOperand(op1)
		if y == 0 {
			return newRuntimeFault(FaultDivisionByZero, uint64(c.Regs.IP), "division by zero")
		}
		r := x / y
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case MOD:
		x, y := c.Regs.Read(op0.Reg), c.loadOperand(op1)
		if y == 0 {
			return newRuntimeFault(FaultDivisionByZero, uint64(c.Regs.IP), "modulo by zero")
		}
		r := x % y
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case AND:
		r := c.Regs.Read(op0.Reg) & c.loadOperand(op1)
		c.Regs.setZSFlags(r)
		c.Regs.Flags.CF, c.Regs.Flags.OF = false, false
		c.Regs.Write(op0.Reg, r)

	case OR:
		r := c.Regs.Read(op0.Reg) | c.loadOperand(op1)
		c.Regs.setZSFlags(r)
		c.Regs.Flags.CF, c.Regs.Flags.OF = false, false
		c.Regs.Write(op0.Reg, r)

	case XOR:
		r := c.Regs.Read(op0.Reg) ^ c.loadOperand(op1)
		c.Regs.setZSFlags(r)
		c.Regs.Flags.CF, c.Regs.Flags.OF = false, false
		c.Regs.Write(op0.Reg, r)

	case NOT:
		r := ^c.Regs.Read(op0.Reg)
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case LSH:
		r := c.Regs.Read(op0.Reg) << uint64(c.loadOperand(op1))
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case RSH:
		r := int64(uint64(c.Regs.Read(op0.Reg)) >> uint64(c.loadOperand(op1)))
		c.Regs.setZSFlags(r)
		c.Regs.Write(op0.Reg, r)

	case LEA:
		if !op1.IsMem() {
			return newRuntimeFault(FaultIllegalOperation, uint64(c.Regs.IP), "LEA source must be a memory expression")
		}
		c.Regs.Write(op0.Reg, int64(op1.Mem.Resolve(&c.Regs)))

	case JMP:
		*nextIP = c.jumpTarget(op0)
		*branched = true

	case LOOP:
		cnt := c.Regs.Read(op0.Reg) - 1
		c.Regs.Write(op0.Reg, cnt)
		if cnt != 0 {
			*nextIP = c.jumpTarget(op1)
			*branched = true
		}

	case CALL:
		target := c.jumpTarget(op0)
		c.push(*nextIP)
		*nextIP = target
		*branched = true

	case RET:
		*nextIP = c.pop()
		*branched = true

	case PUSH:
		c.push(c.loadOperand(op0))

	case POP:
		c.Regs.Write(op0.Reg, c.pop())

	case FPUSH:
		c.pushFloat(c.loadFloatOperand(op0))

	case FPOP:
		c.Regs.WriteFloat(op0.FReg, c.popFloat())

	case GETCHAR:
		r, _, err := c.Stdin.ReadRune()
		if err != nil {
			return newRuntimeFault(FaultIO, uint64(c.Regs.IP), "GETCHAR: %v", err)
		}
		c.Regs.Write(op0.Reg, int64(r))

	case PUTCHAR:
		if _, err := fmt.Fprintf(c.Stdout, "%c", rune(c.Regs.Read(op0.Reg))); err != nil {
			return newRuntimeFault(FaultIO, uint64(c.Regs.IP), "PUTCHAR: %v", err)
		}

	case PUTNUM:
		if _, err := fmt.Fprintf(c.Stdout, "%d", c.Regs.Read(op0.Reg)); err != nil {
			return newRuntimeFault(FaultIO, uint64(c.Regs.IP), "PUTNUM: %v", err)
		}

	case FADD:
		r := c.Regs.ReadFloat(op0.FReg) + c.loadFloatOperand(op1)
		c.Regs.WriteFloat(op0.FReg, r)

	case FSUB:
		r := c.Regs.ReadFloat(op0.FReg) - c.loadFloatOperand(op1)
		c.Regs.WriteFloat(op0.FReg, r)

	case FMUL:
		r := c.Regs.ReadFloat(op0.FReg) * c.loadFloatOperand(op1)
		c.Regs.WriteFloat(op0.FReg, r)

	case FDIV:
		y := c.loadFloatOperand(op1)
		if y == 0 {
			return newRuntimeFault(FaultDivisionByZero, uint64(c.Regs.IP), "float division by zero")
		}
		c.Regs.WriteFloat(op0.FReg, c.Regs.ReadFloat(op0.FReg)/y)

	case FCMP:
		c.Regs.setFloatCompareFlags(c.Regs.ReadFloat(op0.FReg), c.loadFloatOperand(op1))

	case EXT:
		c.Regs.WriteFloat(op0.FReg, float64(c.Regs.Read(op1.Reg)))

	case NRW:
		c.Regs.Write(op0.Reg, int64(c.Regs.ReadFloat(op1.FReg)))

	case HALT:
		c.Writes.DrainAll(c.RAM)
		c.Halted = true

	default:
		invariantViolation("execute: opcode %s has no execution handler", instr.Op)
	}
	return nil
}

// Run ticks the CPU until it halts or maxTicks is reached (0 means
// unbounded), returning the number of ticks executed.
func (c *CPU) Run(maxTicks int) (int, error) {
	n := 0
	for !c.Halted {
		if maxTicks > 0 && n >= maxTicks {
			return n, newRuntimeFault(FaultIllegalOperation, uint64(c.Regs.IP), "exceeded %d ticks without halting", maxTicks)
		}
		if err := c.Tick(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DumpState renders a diagnostic snapshot of the register file, flags and
// the word on top of the stack to w, for callers reporting a RuntimeFault
// with context. The top-of-stack line is omitted when SP is outside RAM.
func (c *CPU) DumpState(w io.Writer) {
	fmt.Fprintf(w, "IP=%d SP=%d BP=%d ZF=%t SF=%t CF=%t OF=%t\n",
		c.Regs.IP, c.Regs.SP, c.Regs.BP,
		c.Regs.Flags.ZF, c.Regs.Flags.SF, c.Regs.Flags.CF, c.Regs.Flags.OF)
	for i, v := range c.Regs.General {
		fmt.Fprintf(w, "R%d=%d ", i, v)
	}
	fmt.Fprintln(w)
	if c.Regs.SP >= 0 && c.Regs.SP < int64(c.RAM.Size()) {
		fmt.Fprintf(w, "[SP]=%d\n", int64(c.readMem(uint64(c.Regs.SP))))
	}
}
