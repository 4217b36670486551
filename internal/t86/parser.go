package t86

import (
	"strconv"
	"strings"
)

// Parser is a single-token-lookahead recursive descent parser over the
// textual T86 assembly: a ".text" section of instructions and an
// optional ".data" section of DW entries.
type Parser struct {
	lex *Lexer
	cur Token
}

func NewParser(src string) (*Parser, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *Parser) expect(kind TokenKind, msg string) error {
	if p.cur.Kind != kind {
		return newParseError(p.cur.Loc, "%s", msg)
	}
	return nil
}

func (p *Parser) expectComma() error {
	if p.cur.Kind != TokComma {
		return newParseError(p.cur.Loc, "expected comma to separate arguments")
	}
	return p.advance()
}

func (p *Parser) getRegister(name string, loc SourceLocation) (Reg, error) {
	switch name {
	case "BP":
		return StackBaseReg, nil
	case "SP":
		return StackPointerReg, nil
	case "IP":
		return ProgramCounterReg, nil
	}
	if len(name) == 0 || name[0] != 'R' {
		return Reg{}, newParseError(loc, "registers must begin with an R, unless IP, BP or SP, got %s", name)
	}
	idx, err := strconv.Atoi(name[1:])
	if err != nil {
		return Reg{}, newParseError(loc, "invalid register name %q", name)
	}
	return GeneralReg(uint32(idx)), nil
}

func isFloatRegisterName(name string) bool { return strings.HasPrefix(name, "FR") }

func (p *Parser) getFloatRegister(name string, loc SourceLocation) (FReg, error) {
	if !isFloatRegisterName(name) {
		return FReg{}, newParseError(loc, "float registers must begin with FR, got %s", name)
	}
	idx, err := strconv.Atoi(name[2:])
	if err != nil {
		return FReg{}, newParseError(loc, "invalid float register name %q", name)
	}
	return FReg{Index: uint32(idx)}, nil
}

// Operand parses one of: Reg, Reg+Imm, FReg, Imm, FloatImm, or a bracketed
// memory expression.
func (p *Parser) Operand() (Operand, error) {
	switch p.cur.Kind {
	case TokID:
		name := p.lex.ID()
		loc := p.cur.Loc
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		if p.cur.Kind == TokPlus {
			if err := p.advance(); err != nil {
				return Operand{}, err
			}
			if p.cur.Kind != TokNum {
				return Operand{}, newParseError(p.cur.Loc, "after Reg + _ there can be only a number")
			}
			imm := p.lex.Number()
			if err := p.advance(); err != nil {
				return Operand{}, err
			}
			reg, err := p.getRegister(name, loc)
			if err != nil {
				return Operand{}, err
			}
			mem, _ := Mem(imm).AddReg(reg)
			return MemOperand(mem), nil
		}
		if isFloatRegisterName(name) {
			freg, err := p.getFloatRegister(name, loc)
			if err != nil {
				return Operand{}, err
			}
			return FRegOperand(freg), nil
		}
		reg, err := p.getRegister(name, loc)
		if err != nil {
			return Operand{}, err
		}
		return RegOperand(reg), nil

	case TokNum:
		imm := p.lex.Number()
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		return ImmOperand(imm), nil

	case TokNumFloat:
		f := p.lex.FloatNumber()
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		return FloatImmOperand(f), nil

	case TokLBracket:
		return p.memOperand()

	default:
		return Operand{}, newParseError(p.cur.Loc, "expected an operand")
	}
}

func (p *Parser) memOperand() (Operand, error) {
	if err := p.advance(); err != nil { // eat '['
		return Operand{}, err
	}

	switch p.cur.Kind {
	case TokNum:
		val := p.lex.Number()
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		if err := p.expect(TokRBracket, "expected ']' to close [Imm]"); err != nil {
			return Operand{}, err
		}
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		return MemOperand(Mem(val)), nil

	case TokID:
		name := p.lex.ID()
		loc := p.cur.Loc
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		reg, err := p.getRegister(name, loc)
		if err != nil {
			return Operand{}, err
		}

		switch p.cur.Kind {
		case TokRBracket:
			if err := p.advance(); err != nil {
				return Operand{}, err
			}
			mem, _ := Mem(0).AddReg(reg)
			return MemOperand(mem), nil

		case TokPlus:
			if err := p.advance(); err != nil { // eat '+'
				return Operand{}, err
			}
			switch p.cur.Kind {
			case TokID:
				name2 := p.lex.ID()
				loc2 := p.cur.Loc
				if err := p.advance(); err != nil {
					return Operand{}, err
				}
				reg2, err := p.getRegister(name2, loc2)
				if err != nil {
					return Operand{}, err
				}
				switch p.cur.Kind {
				case TokRBracket:
					if err := p.advance(); err != nil {
						return Operand{}, err
					}
					mem, _ := Mem(0).AddReg(reg)
					mem, _ = mem.AddReg(reg2)
					return MemOperand(mem), nil
				case TokTimes:
					if err := p.advance(); err != nil { // eat '*'
						return Operand{}, err
					}
					if err := p.expect(TokNum, "expected imm in [Reg + Reg * Imm]"); err != nil {
						return Operand{}, err
					}
					val := p.lex.Number()
					if err := p.advance(); err != nil {
						return Operand{}, err
					}
					if err := p.expect(TokRBracket, "expected ']' to close [Reg + Reg * Imm]"); err != nil {
						return Operand{}, err
					}
					if err := p.advance(); err != nil {
						return Operand{}, err
					}
					mem, _ := Mem(0).AddReg(reg)
					mem, _ = mem.AddReg(reg2)
					mem, e := mem.WithScale(val)
					if e != nil {
						return Operand{}, e
					}
					return MemOperand(mem), nil
				default:
					return Operand{}, newParseError(p.cur.Loc, "expected '*' or ']' after [Reg + Reg")
				}

			case TokNum:
				val := p.lex.Number()
				if err := p.advance(); err != nil {
					return Operand{}, err
				}
				if p.cur.Kind == TokRBracket {
					if err := p.advance(); err != nil {
						return Operand{}, err
					}
					mem, _ := Mem(val).AddReg(reg)
					return MemOperand(mem), nil
				}
				if p.cur.Kind != TokPlus {
					return Operand{}, newParseError(p.cur.Loc, "dereference of form [R1 + i ...] must always contain '+ R' after i")
				}
				if err := p.advance(); err != nil { // eat '+'
					return Operand{}, err
				}
				if err := p.expect(TokID, "expected register after [R1 + i +"); err != nil {
					return Operand{}, err
				}
				name3 := p.lex.ID()
				loc3 := p.cur.Loc
				if err := p.advance(); err != nil {
					return Operand{}, err
				}
				reg2, err := p.getRegister(name3, loc3)
				if err != nil {
					return Operand{}, err
				}
				if p.cur.Kind == TokRBracket {
					if err := p.advance(); err != nil {
						return Operand{}, err
					}
					mem, _ := Mem(val).AddReg(reg)
					mem, _ = mem.AddReg(reg2)
					return MemOperand(mem), nil
				}
				if err := p.expect(TokTimes, "after [R1 + i + R2] there must be a '*' or ']'"); err != nil {
					return Operand{}, err
				}
				if err := p.advance(); err != nil { // eat '*'
					return Operand{}, err
				}
				if err := p.expect(TokNum, "after [R1 + i + R2 *] there must be an imm"); err != nil {
					return Operand{}, err
				}
				val2 := p.lex.Number()
				if err := p.advance(); err != nil {
					return Operand{}, err
				}
				if err := p.expect(TokRBracket, "expected ']' to close dereference"); err != nil {
					return Operand{}, err
				}
				if err := p.advance(); err != nil {
					return Operand{}, err
				}
				mem, _ := Mem(val).AddReg(reg)
				mem, _ = mem.AddReg(reg2)
				mem, e := mem.WithScale(val2)
				if e != nil {
					return Operand{}, e
				}
				return MemOperand(mem), nil

			default:
				return Operand{}, newParseError(p.cur.Loc, "expected register or number after '[Reg +'")
			}

		case TokTimes:
			if err := p.advance(); err != nil { // eat '*'
				return Operand{}, err
			}
			if err := p.expect(TokNum, "after [R1 * ...] there must be an imm"); err != nil {
				return Operand{}, err
			}
			val := p.lex.Number()
			if err := p.advance(); err != nil {
				return Operand{}, err
			}
			if err := p.expect(TokRBracket, "expected ']' to close dereference"); err != nil {
				return Operand{}, err
			}
			if err := p.advance(); err != nil {
				return Operand{}, err
			}
			// [R * i]: the lone register is the scaled index, with no base.
			idx := reg
			return MemOperand(MemExpr{Index: &idx, Scale: val}), nil

		default:
			return Operand{}, newParseError(p.cur.Loc, "unexpected token inside memory dereference")
		}

	default:
		return Operand{}, newParseError(p.cur.Loc, "unsupported memory operand form")
	}
}

func (p *Parser) Register() (Reg, error) {
	loc := p.cur.Loc
	op, err := p.Operand()
	if err != nil {
		return Reg{}, err
	}
	if !op.IsReg() {
		return Reg{}, newParseError(loc, "expected a register, got %s", op)
	}
	return op.Reg, nil
}

func (p *Parser) FloatRegister() (FReg, error) {
	loc := p.cur.Loc
	op, err := p.Operand()
	if err != nil {
		return FReg{}, err
	}
	if !op.IsFReg() {
		return FReg{}, newParseError(loc, "expected a float register, got %s", op)
	}
	return op.FReg, nil
}

// parseInstruction parses a single .text line, including its optional
// leading address and the per-opcode operand grammar.
func (p *Parser) parseInstruction() (Instruction, error) {
	if p.cur.Kind == TokNum { // optional leading address
		if err := p.advance(); err != nil {
			return Instruction{}, err
		}
	}
	if p.cur.Kind != TokID {
		return Instruction{}, newParseError(p.cur.Loc, "expected an instruction name")
	}
	name := p.lex.ID()
	loc := p.cur.Loc
	if err := p.advance(); err != nil {
		return Instruction{}, err
	}

	two := func(op Opcode, destReg Reg) (Instruction, error) {
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		src, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		return Instr2(op, RegOperand(destReg), src), nil
	}

	switch name {
	case "NOP":
		return Instr0(NOP), nil
	case "HALT":
		return Instr0(HALT), nil
	case "BREAK":
		return Instr0(BREAK), nil
	case "RET":
		return Instr0(RET), nil

	case "DBG":
		return Instruction{}, newParseError(loc, "DBG instruction is not supported")
	case "CLF":
		return Instruction{}, newParseError(loc, "CLF instruction is not implemented")

	case "MOV":
		dest, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		src, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		return Instr2(MOV, dest, src), nil

	case "ADD", "SUB", "MUL", "DIV", "MOD", "IMUL", "IDIV", "AND", "OR", "XOR", "LSH", "RSH", "CMP", "LEA":
		dest, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		return two(nameToOpcode[name], dest)

	case "INC", "DEC", "NEG":
		op, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(nameToOpcode[name], RegOperand(op)), nil

	case "NOT":
		op, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		if !op.IsReg() {
			return Instruction{}, newParseError(loc, "NOT requires a register operand")
		}
		return Instr1(NOT, op), nil

	case "FCMP":
		dest, err := p.FloatRegister()
		if err != nil {
			return Instruction{}, err
		}
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		src, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		if !(src.IsFReg() || src.IsFloatImm()) {
			return Instruction{}, newParseError(loc, "FCMP must have either float value or float register as source")
		}
		return Instr2(FCMP, FRegOperand(dest), src), nil

	case "JMP":
		dest, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		if !(dest.IsReg() || dest.IsImm()) {
			return Instruction{}, newParseError(loc, "JMP must have either register or value as dest")
		}
		return Instr1(JMP, dest), nil

	case "LOOP":
		reg, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		dest, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		if !(dest.IsReg() || dest.IsImm()) {
			return Instruction{}, newParseError(loc, "LOOP must have either register or value as dest")
		}
		return Instr2(LOOP, RegOperand(reg), dest), nil

	case "JE", "JNE", "JL", "JLE", "JG", "JGE", "JB", "JBE", "JA", "JAE", "JO", "JNO", "JS", "JNS", "JZ", "JNZ":
		dest, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		if !(dest.IsReg() || dest.IsImm()) {
			return Instruction{}, newParseError(loc, "%s must have either register or value as dest", name)
		}
		return Instr1(nameToOpcode[name], dest), nil

	case "CALL":
		dest, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(CALL, dest), nil

	case "PUSH":
		val, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(PUSH, val), nil

	case "FPUSH":
		val, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(FPUSH, val), nil

	case "POP":
		reg, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(POP, RegOperand(reg)), nil

	case "FPOP":
		reg, err := p.FloatRegister()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(FPOP, FRegOperand(reg)), nil

	case "GETCHAR", "PUTCHAR", "PUTNUM":
		reg, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		return Instr1(nameToOpcode[name], RegOperand(reg)), nil

	case "FADD", "FSUB", "FMUL", "FDIV":
		dest, err := p.FloatRegister()
		if err != nil {
			return Instruction{}, err
		}
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		src, err := p.Operand()
		if err != nil {
			return Instruction{}, err
		}
		return Instr2(nameToOpcode[name], FRegOperand(dest), src), nil

	case "EXT":
		dest, err := p.FloatRegister()
		if err != nil {
			return Instruction{}, err
		}
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		src, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		return Instr2(EXT, FRegOperand(dest), RegOperand(src)), nil

	case "NRW":
		dest, err := p.Register()
		if err != nil {
			return Instruction{}, err
		}
		if err := p.expectComma(); err != nil {
			return Instruction{}, err
		}
		src, err := p.FloatRegister()
		if err != nil {
			return Instruction{}, err
		}
		return Instr2(NRW, RegOperand(dest), FRegOperand(src)), nil

	default:
		return Instruction{}, newParseError(loc, "unknown instruction %s", name)
	}
}

func (p *Parser) parseText() ([]Instruction, error) {
	var instrs []Instruction
	for p.cur.Kind == TokNum || p.cur.Kind == TokID {
		loc := p.cur.Loc
		instr, err := p.parseInstruction()
		if err != nil {
			return nil, err
		}
		if err := instr.Validate(); err != nil {
			return nil, newParseError(loc, "%s: %v", instr.Op, err)
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func (p *Parser) parseData() ([]int64, error) {
	var data []int64
	for p.cur.Kind == TokNum || p.cur.Kind == TokID {
		if p.cur.Kind == TokNum { // optional leading address
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expect(TokID, "expected DW"); err != nil {
			return nil, err
		}
		name := p.lex.ID()
		if name != "DW" {
			return nil, newParseError(p.cur.Loc, "expected DW, got %s", name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(TokNum, "expected number after DW"); err != nil {
			return nil, err
		}
		word := p.lex.Number()
		if err := p.advance(); err != nil {
			return nil, err
		}

		repCount := int64(1)
		if p.cur.Kind == TokTimes {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expect(TokNum, "expected number after '*'"); err != nil {
				return nil, err
			}
			repCount = p.lex.Number()
			if err := p.advance(); err != nil {
				return nil, err
			}
		}

		for i := int64(0); i < repCount; i++ {
			data = append(data, word)
		}
	}
	return data, nil
}

func (p *Parser) parseSection(prog *Program) error {
	if err := p.expect(TokID, "expected a section name"); err != nil {
		return err
	}
	name := p.lex.ID()
	if err := p.advance(); err != nil {
		return err
	}
	switch name {
	case "text":
		instrs, err := p.parseText()
		if err != nil {
			return err
		}
		prog.Instrs = append(prog.Instrs, instrs...)
		return nil
	case "data":
		data, err := p.parseData()
		if err != nil {
			return err
		}
		prog.Data = append(prog.Data, data...)
		return nil
	default:
		return newParseError(p.cur.Loc, "invalid section name %q", name)
	}
}

// Parse consumes the entire input and returns the assembled Program.
func (p *Parser) Parse() (*Program, error) {
	if p.cur.Kind != TokDot {
		return nil, newParseError(p.cur.Loc, "file does not contain any section")
	}
	prog := &Program{}
	for p.cur.Kind == TokDot {
		if err := p.advance(); err != nil { // eat '.'
			return nil, err
		}
		if err := p.parseSection(prog); err != nil {
			return nil, err
		}
	}
	if err := p.expect(TokEnd, "expected end of file"); err != nil {
		return nil, err
	}
	return prog, nil
}

// ParseSource is a convenience wrapper that parses a complete program from
// a string.
func ParseSource(src string) (*Program, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	return p.Parse()
}
