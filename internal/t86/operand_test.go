package t86

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestMemExprBuilders(t *testing.T) {
	r0 := GeneralReg(0)
	r1 := GeneralReg(1)

	m, err := Mem(0).AddReg(r0)
	assert(t, err == nil, "AddReg(r0): %v", err)
	m, err = m.AddReg(r1)
	assert(t, err == nil, "AddReg(r1): %v", err)
	m, err = m.WithScale(4)
	assert(t, err == nil, "WithScale(4): %v", err)

	want := MemExpr{Base: &r0, Index: &r1, Scale: 4}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("MemExpr mismatch (-want +got):\n%s", diff)
	}
}

func TestMemExprThirdRegisterRejected(t *testing.T) {
	m, err := Mem(0).AddReg(GeneralReg(0))
	assert(t, err == nil, "first AddReg: %v", err)
	m, err = m.AddReg(GeneralReg(1))
	assert(t, err == nil, "second AddReg: %v", err)
	_, err = m.AddReg(GeneralReg(2))
	assert(t, err != nil, "expected error adding a third register")
}

func TestMemExprScaleWithoutIndexRejected(t *testing.T) {
	m, _ := Mem(0).AddReg(GeneralReg(0))
	_, err := m.WithScale(2)
	assert(t, err != nil, "expected error scaling without an index register")
}

func TestMemExprResolve(t *testing.T) {
	var regs Registers
	regs.Write(GeneralReg(0), 100)
	regs.Write(GeneralReg(1), 3)

	m, _ := Mem(8).AddReg(GeneralReg(0))
	m, _ = m.AddReg(GeneralReg(1))
	m, _ = m.WithScale(4)

	got := m.Resolve(&regs)
	want := uint64(8 + 100 + 3*4)
	assert(t, got == want, "Resolve: got %d want %d", got, want)
}

func TestOperandStrings(t *testing.T) {
	cases := []struct {
		op   Operand
		want string
	}{
		{ImmOperand(42), "42"},
		{RegOperand(GeneralReg(3)), "R3"},
		{RegOperand(StackPointerReg), "SP"},
		{FRegOperand(FReg{Index: 2}), "FR2"},
		{MemOperand(Mem(16)), "[16]"},
	}
	for _, c := range cases {
		if got := c.op.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}
