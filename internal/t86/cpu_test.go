package t86

import (
	"bytes"
	"strings"
	"testing"
)

func runProgram(t *testing.T, src string, ramWords int, stdin string) (*CPU, error) {
	t.Helper()
	prog, err := ParseSource(src)
	assert(t, err == nil, "ParseSource: %v", err)
	cpu := NewCPU(prog, ramWords, strings.NewReader(stdin), &bytes.Buffer{})
	cpu.Start()
	_, err = cpu.Run(10_000)
	return cpu, err
}

func TestCPUArithmeticAndFlags(t *testing.T) {
	cpu, err := runProgram(t, `
.text
MOV R0, 10
MOV R1, 3
SUB R0, R1
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Regs.Read(GeneralReg(0)) == 7, "R0 = %d, want 7", cpu.Regs.Read(GeneralReg(0)))
	assert(t, !cpu.Regs.Flags.ZF, "expected ZF clear")
}

func TestCPULoopOpcode(t *testing.T) {
	// Instruction addresses: 0 MOV, 1 MOV, 2 ADD (loop body), 3 LOOP, 4 HALT.
	cpu, err := runProgram(t, `
.text
MOV R0, 5
MOV R1, 0
ADD R1, 1
LOOP R0, 2
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Regs.Read(GeneralReg(1)) == 5, "R1 = %d, want 5", cpu.Regs.Read(GeneralReg(1)))
}

func TestCPUMemoryLoadForwarding(t *testing.T) {
	cpu, err := runProgram(t, `
.text
MOV R0, 1000
MOV [R0], 42
MOV R1, [R0]
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Regs.Read(GeneralReg(1)) == 42, "R1 = %d, want 42 (forwarded store)", cpu.Regs.Read(GeneralReg(1)))
}

func TestCPUDivisionByZeroFault(t *testing.T) {
	_, err := runProgram(t, `
.text
MOV R0, 1
MOV R1, 0
DIV R0, R1
HALT
`, 0, "")
	assert(t, err != nil, "expected a division-by-zero RuntimeFault")
	fault, ok := err.(*RuntimeFault)
	assert(t, ok, "expected *RuntimeFault, got %T", err)
	assert(t, fault.Kind == FaultDivisionByZero, "expected FaultDivisionByZero, got %s", fault.Kind)
}

func TestCPUSegfaultOnOutOfBoundsAccess(t *testing.T) {
	_, err := runProgram(t, `
.text
MOV R0, 999999999
MOV [R0], 1
HALT
`, 16, "")
	assert(t, err != nil, "expected a segmentation fault")
	fault, ok := err.(*RuntimeFault)
	assert(t, ok, "expected *RuntimeFault, got %T", err)
	assert(t, fault.Kind == FaultSegmentationFault, "expected FaultSegmentationFault, got %s", fault.Kind)
}

func TestCPUCallAndReturn(t *testing.T) {
	cpu, err := runProgram(t, `
.text
MOV R0, 0
CALL 3
JMP 5
ADD R0, 1
RET
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Regs.Read(GeneralReg(0)) == 1, "R0 = %d, want 1 (CALL/RET executed once)", cpu.Regs.Read(GeneralReg(0)))
}

func TestCPUPushPopRoundTrip(t *testing.T) {
	cpu, err := runProgram(t, `
.text
MOV R0, 77
PUSH R0
POP R1
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Regs.Read(GeneralReg(1)) == 77, "R1 = %d, want 77", cpu.Regs.Read(GeneralReg(1)))
}

func TestCPUFloatArithmetic(t *testing.T) {
	cpu, err := runProgram(t, `
.text
FADD FR0, 1.5
FADD FR0, 2.5
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Regs.ReadFloat(FReg{Index: 0}) == 4.0, "FR0 = %v, want 4.0", cpu.Regs.ReadFloat(FReg{Index: 0}))
}

func TestCPUGetcharPutchar(t *testing.T) {
	prog, err := ParseSource(`
.text
GETCHAR R0
PUTCHAR R0
HALT
`)
	assert(t, err == nil, "ParseSource: %v", err)

	var out bytes.Buffer
	cpu := NewCPU(prog, 0, strings.NewReader("A"), &out)
	cpu.Start()
	_, err = cpu.Run(100)
	assert(t, err == nil, "Run: %v", err)
	assert(t, out.String() == "A", "stdout = %q, want %q", out.String(), "A")
}

func TestCPUHaltDrainsPendingWrites(t *testing.T) {
	cpu, err := runProgram(t, `
.text
MOV R0, 5
MOV [R0], 123
HALT
`, 0, "")
	assert(t, err == nil, "Run: %v", err)
	assert(t, cpu.Writes.liveWriteCount() == 0, "expected HALT to drain all pending writes, got %d", cpu.Writes.liveWriteCount())
	assert(t, cpu.RAM.Read(5) == 123, "expected the drained write to land in RAM, got %d", cpu.RAM.Read(5))
}
