package t86

import "testing"

func lexAll(t *testing.T, src string) []TokenKind {
	t.Helper()
	lex := NewLexer(src)
	var kinds []TokenKind
	for {
		tok, err := lex.Next()
		assert(t, err == nil, "Next: %v", err)
		kinds = append(kinds, tok.Kind)
		if tok.Kind == TokEnd {
			return kinds
		}
	}
}

func TestLexerBasicInstruction(t *testing.T) {
	got := lexAll(t, "MOV R0, [R1+8]")
	want := []TokenKind{
		TokID, TokID, TokComma, TokLBracket, TokID, TokPlus, TokNum, TokRBracket, TokEnd,
	}
	assert(t, len(got) == len(want), "token count: got %d want %d", len(got), len(want))
	for i := range want {
		assert(t, got[i] == want[i], "token %d: got %s want %s", i, got[i], want[i])
	}
}

func TestLexerSkipsCommentsAndWhitespace(t *testing.T) {
	got := lexAll(t, "  # a comment\nNOP  # trailing\n")
	want := []TokenKind{TokID, TokEnd}
	assert(t, len(got) == len(want), "token count: got %d want %d", len(got), len(want))
	assert(t, got[0] == TokID, "expected ID, got %s", got[0])
}

func TestLexerIntegerLiteral(t *testing.T) {
	lex := NewLexer("-123")
	tok, err := lex.Next()
	assert(t, err == nil, "Next: %v", err)
	assert(t, tok.Kind == TokNum, "expected NUM, got %s", tok.Kind)
	assert(t, lex.Number() == -123, "got %d want -123", lex.Number())
}

func TestLexerFloatLiteral(t *testing.T) {
	lex := NewLexer("3.5e2")
	tok, err := lex.Next()
	assert(t, err == nil, "Next: %v", err)
	assert(t, tok.Kind == TokNumFloat, "expected NUM_FLOAT, got %s", tok.Kind)
	assert(t, lex.FloatNumber() == 350, "got %v want 350", lex.FloatNumber())
}

func TestLexerRejectsSecondDot(t *testing.T) {
	lex := NewLexer("1.2.3")
	_, err := lex.Next()
	assert(t, err != nil, "expected an error for a second '.'")
}

func TestLexerRejectsSecondExponent(t *testing.T) {
	lex := NewLexer("1e2e3")
	_, err := lex.Next()
	assert(t, err != nil, "expected an error for a second exponent marker")
}

func TestLexerLocationsAdvanceAcrossLines(t *testing.T) {
	lex := NewLexer("NOP\nNOP")
	first, err := lex.Next()
	assert(t, err == nil, "Next: %v", err)
	assert(t, first.Loc.Line == 1, "first token line: got %d want 1", first.Loc.Line)
	second, err := lex.Next()
	assert(t, err == nil, "Next: %v", err)
	assert(t, second.Loc.Line == 2, "second token line: got %d want 2", second.Loc.Line)
}
