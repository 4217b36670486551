package t86

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidOperand is returned by the MemExpr combinators when an operand
// shape cannot be normalized into {base, index, scale, disp} - for example
// a second base register (R1 + R2 + R3).
var ErrInvalidOperand = errors.New("invalid operand")

// RegKind distinguishes the three named registers from the general-purpose
// bank.
type RegKind int

const (
	RegGeneral RegKind = iota
	RegSP
	RegBP
	RegIP
)

// Reg is an integer-register operand: either one of SP/BP/IP, or a
// general-purpose register identified by Index.
type Reg struct {
	Kind  RegKind
	Index uint32
}

func GeneralReg(index uint32) Reg { return Reg{Kind: RegGeneral, Index: index} }

var (
	StackPointerReg  = Reg{Kind: RegSP}
	StackBaseReg     = Reg{Kind: RegBP}
	ProgramCounterReg = Reg{Kind: RegIP}
)

func (r Reg) String() string {
	switch r.Kind {
	case RegSP:
		return "SP"
	case RegBP:
		return "BP"
	case RegIP:
		return "IP"
	default:
		return fmt.Sprintf("R%d", r.Index)
	}
}

// FReg is a floating-point register operand, FR0..FRm.
type FReg struct {
	Index uint32
}

func (fr FReg) String() string { return fmt.Sprintf("FR%d", fr.Index) }

// MemExpr is the normalized shape every memory-operand grammar production
// collapses into: effective address = Disp + (Base? + (Index? * Scale)).
type MemExpr struct {
	Base  *Reg
	Index *Reg
	Scale int64
	Disp  int64
}

// Mem builds a MemExpr with only a displacement, the [imm] form.
func Mem(disp int64) MemExpr {
	return MemExpr{Disp: disp}
}

// AddReg folds another register into the expression: the first register
// seen becomes Base, the second becomes Index (with a default Scale of 1).
// A third register has nowhere to go and is rejected.
func (m MemExpr) AddReg(r Reg) (MemExpr, error) {
	reg := r
	switch {
	case m.Base == nil:
		m.Base = &reg
	case m.Index == nil:
		m.Index = &reg
		if m.Scale == 0 {
			m.Scale = 1
		}
	default:
		return MemExpr{}, errors.Wrap(ErrInvalidOperand, "memory expression cannot hold more than one base and one index register")
	}
	return m, nil
}

// AddImm folds a displacement into the expression. Multiple displacements
// accumulate, matching the [R1+i+R2] grammar production where i appears
// once but the builder is reused across chained operand construction.
func (m MemExpr) AddImm(v int64) (MemExpr, error) {
	m.Disp += v
	return m, nil
}

// WithScale sets the scale of the most recently added index register.
// Scaling without an index register present is an invalid operand.
func (m MemExpr) WithScale(v int64) (MemExpr, error) {
	if m.Index == nil {
		return MemExpr{}, errors.Wrap(ErrInvalidOperand, "scale requires an index register")
	}
	m.Scale = v
	return m, nil
}

func (m MemExpr) String() string {
	parts := ""
	if m.Base != nil {
		parts += m.Base.String()
	}
	if m.Index != nil {
		if parts != "" {
			parts += "+"
		}
		parts += fmt.Sprintf("%s*%d", m.Index, m.Scale)
	}
	if m.Disp != 0 || parts == "" {
		if parts != "" {
			parts += "+"
		}
		parts += fmt.Sprintf("%d", m.Disp)
	}
	return "[" + parts + "]"
}

// OperandKind tags which field of Operand is meaningful.
type OperandKind int

const (
	OpImm OperandKind = iota
	OpFloatImm
	OpReg
	OpFReg
	OpMem
)

// Operand is a tagged variant over Imm/FloatImm/Reg/FReg/MemExpr. Only the
// field matching Kind is populated; the rest are zero values.
type Operand struct {
	Kind     OperandKind
	Imm      int64
	FloatImm float64
	Reg      Reg
	FReg     FReg
	Mem      MemExpr
}

func ImmOperand(v int64) Operand           { return Operand{Kind: OpImm, Imm: v} }
func FloatImmOperand(v float64) Operand    { return Operand{Kind: OpFloatImm, FloatImm: v} }
func RegOperand(r Reg) Operand             { return Operand{Kind: OpReg, Reg: r} }
func FRegOperand(fr FReg) Operand          { return Operand{Kind: OpFReg, FReg: fr} }
func MemOperand(m MemExpr) Operand         { return Operand{Kind: OpMem, Mem: m} }

func (o Operand) IsReg() bool      { return o.Kind == OpReg }
func (o Operand) IsFReg() bool     { return o.Kind == OpFReg }
func (o Operand) IsImm() bool      { return o.Kind == OpImm }
func (o Operand) IsFloatImm() bool { return o.Kind == OpFloatImm }
func (o Operand) IsMem() bool      { return o.Kind == OpMem }

func (o Operand) String() string {
	switch o.Kind {
	case OpImm:
		return fmt.Sprintf("%d", o.Imm)
	case OpFloatImm:
		return fmt.Sprintf("%g", o.FloatImm)
	case OpReg:
		return o.Reg.String()
	case OpFReg:
		return o.FReg.String()
	case OpMem:
		return o.Mem.String()
	default:
		return "?unknown-operand?"
	}
}

// Resolve computes the effective address of a MemExpr against the current
// register file. Base/Index values are read as unsigned 64-bit addresses.
func (m MemExpr) Resolve(regs *Registers) uint64 {
	addr := m.Disp
	if m.Base != nil {
		addr += int64(regs.Read(*m.Base))
	}
	if m.Index != nil {
		addr += int64(regs.Read(*m.Index)) * m.Scale
	}
	return uint64(addr)
}
