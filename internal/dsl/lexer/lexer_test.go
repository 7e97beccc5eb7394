package lexer

import (
	"testing"

	"github.com/caliber-dev/caliber/internal/dsl"
)

func kinds(toks []dsl.Token) []dsl.TokenKind {
	out := make([]dsl.TokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeBasicDocument(t *testing.T) {
	src := `caliber: "1.0" {
		memory "notes" {
			type: "note"
			retention: 30d
			indexes: ["a", "b"]
		}
	}`
	toks, err := Tokenize(src)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if toks[len(toks)-1].Kind != dsl.TokenEOF {
		t.Fatal("expected trailing EOF token")
	}

	var foundDuration bool
	for _, tok := range toks {
		if tok.Kind == dsl.TokenDuration && tok.Text == "30d" {
			foundDuration = true
		}
	}
	if !foundDuration {
		t.Fatal("expected a 30d duration token")
	}
}

func TestTokenizeStringEscapes(t *testing.T) {
	toks, err := Tokenize(`"line1\nline2\t\"quoted\""`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if toks[0].Text != "line1\nline2\t\"quoted\"" {
		t.Fatalf("got %q", toks[0].Text)
	}
}

func TestTokenizeComments(t *testing.T) {
	toks, err := Tokenize("// line comment\nmemory /* inline */ \"x\"")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	got := kinds(toks)
	want := []dsl.TokenKind{dsl.TokenIdent, dsl.TokenString, dsl.TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
}

func TestTokenizeUnterminatedStringIsSyntaxError(t *testing.T) {
	_, err := Tokenize(`"unterminated`)
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	var synErr *dsl.SyntaxError
	if !asSyntaxError(err, &synErr) {
		t.Fatalf("expected *dsl.SyntaxError, got %T", err)
	}
}

func asSyntaxError(err error, target **dsl.SyntaxError) bool {
	se, ok := err.(*dsl.SyntaxError)
	if ok {
		*target = se
	}
	return ok
}

func TestTokenizeUnexpectedCharacter(t *testing.T) {
	_, err := Tokenize("memory @invalid")
	if err == nil {
		t.Fatal("expected a syntax error for '@'")
	}
}
