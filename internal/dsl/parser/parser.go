// Package parser implements the recursive-descent parser for the
// caliber configuration grammar: caliber: "<version>" { <definition>* }.
// Definitions are adapter, memory, policy, and injection, each holding
// a flat set of key: value fields; unknown fields are a parser concern
// only insofar as a field that isn't a recognized identifier is still
// collected — semantic rejection of unknown fields per definition kind
// happens in internal/dsl/validate, which knows each kind's schema.
package parser

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caliber-dev/caliber/internal/dsl"
	"github.com/caliber-dev/caliber/internal/dsl/lexer"
)

var definitionKinds = map[string]bool{"adapter": true, "memory": true, "policy": true, "injection": true}

// Parser consumes a token stream produced by lexer.Tokenize.
type Parser struct {
	toks []dsl.Token
	pos  int
}

// Parse tokenizes and parses src into a dsl.Document.
func Parse(src string) (*dsl.Document, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	return p.parseDocument()
}

func (p *Parser) cur() dsl.Token  { return p.toks[p.pos] }
func (p *Parser) advance() dsl.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expect(kind dsl.TokenKind, what string) (dsl.Token, error) {
	if p.cur().Kind != kind {
		return dsl.Token{}, p.errorf("expected %s", what)
	}
	return p.advance(), nil
}

func (p *Parser) errorf(format string, args ...any) error {
	tok := p.cur()
	return &dsl.SyntaxError{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) parseDocument() (*dsl.Document, error) {
	head, err := p.expectIdentText("caliber")
	if err != nil {
		return nil, err
	}
	_ = head
	if _, err := p.expect(dsl.TokenColon, "':' after caliber"); err != nil {
		return nil, err
	}
	versionTok, err := p.expect(dsl.TokenString, "a quoted version string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(dsl.TokenLBrace, "'{' opening the document body"); err != nil {
		return nil, err
	}

	doc := &dsl.Document{Version: versionTok.Text}
	for p.cur().Kind != dsl.TokenRBrace {
		if p.cur().Kind == dsl.TokenEOF {
			return nil, p.errorf("unexpected end of input, expected '}'")
		}
		def, err := p.parseDefinition()
		if err != nil {
			return nil, err
		}
		doc.Definitions = append(doc.Definitions, *def)
	}
	if _, err := p.expect(dsl.TokenRBrace, "'}' closing the document body"); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Parser) expectIdentText(text string) (dsl.Token, error) {
	tok := p.cur()
	if tok.Kind != dsl.TokenIdent || tok.Text != text {
		return dsl.Token{}, p.errorf("expected %q", text)
	}
	return p.advance(), nil
}

func (p *Parser) parseDefinition() (*dsl.Definition, error) {
	kindTok := p.cur()
	if kindTok.Kind != dsl.TokenIdent || !definitionKinds[kindTok.Text] {
		return nil, p.errorf("expected a definition kind (adapter, memory, policy, injection)")
	}
	p.advance()

	nameTok, err := p.expect(dsl.TokenString, "a quoted definition name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(dsl.TokenLBrace, "'{' opening the definition body"); err != nil {
		return nil, err
	}

	def := &dsl.Definition{Kind: kindTok.Text, Name: nameTok.Text, Fields: map[string]dsl.Value{}, Line: kindTok.Line, Col: kindTok.Col}
	for p.cur().Kind != dsl.TokenRBrace {
		if p.cur().Kind == dsl.TokenEOF {
			return nil, p.errorf("unexpected end of input, expected '}'")
		}
		fieldTok, err := p.expect(dsl.TokenIdent, "a field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(dsl.TokenColon, "':' after field name"); err != nil {
			return nil, err
		}
		val, err := p.parseValue(fieldTok.Text)
		if err != nil {
			return nil, err
		}
		def.Fields[fieldTok.Text] = val
	}
	if _, err := p.expect(dsl.TokenRBrace, "'}' closing the definition body"); err != nil {
		return nil, err
	}
	return def, nil
}

// parseValue dispatches on the current token. field is "filter" is the
// one case where the value is a boolean filter expression instead of a
// scalar/list/object.
func (p *Parser) parseValue(field string) (dsl.Value, error) {
	if field == "filter" {
		expr, err := p.parseFilterOr()
		if err != nil {
			return dsl.Value{}, err
		}
		return dsl.Value{Kind: dsl.ValueFilter, Filter: expr}, nil
	}

	switch p.cur().Kind {
	case dsl.TokenString:
		tok := p.advance()
		return dsl.Value{Kind: dsl.ValueString, Str: tok.Text}, nil
	case dsl.TokenNumber:
		tok := p.advance()
		n, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return dsl.Value{}, &dsl.SyntaxError{Line: tok.Line, Col: tok.Col, Msg: "invalid number " + tok.Text}
		}
		return dsl.Value{Kind: dsl.ValueNumber, Num: n}, nil
	case dsl.TokenDuration:
		tok := p.advance()
		d, err := parseDuration(tok.Text)
		if err != nil {
			return dsl.Value{}, &dsl.SyntaxError{Line: tok.Line, Col: tok.Col, Msg: err.Error()}
		}
		return dsl.Value{Kind: dsl.ValueDuration, Dur: d}, nil
	case dsl.TokenBool:
		tok := p.advance()
		return dsl.Value{Kind: dsl.ValueBool, Bool: tok.Text == "true"}, nil
	case dsl.TokenLBracket:
		return p.parseList()
	case dsl.TokenLBrace:
		return p.parseObject()
	default:
		return dsl.Value{}, p.errorf("expected a value")
	}
}

func (p *Parser) parseList() (dsl.Value, error) {
	if _, err := p.expect(dsl.TokenLBracket, "'['"); err != nil {
		return dsl.Value{}, err
	}
	var items []dsl.Value
	for p.cur().Kind != dsl.TokenRBracket {
		if p.cur().Kind == dsl.TokenEOF {
			return dsl.Value{}, p.errorf("unexpected end of input, expected ']'")
		}
		v, err := p.parseValue("")
		if err != nil {
			return dsl.Value{}, err
		}
		items = append(items, v)
		if p.cur().Kind == dsl.TokenComma {
			p.advance()
		}
	}
	if _, err := p.expect(dsl.TokenRBracket, "']'"); err != nil {
		return dsl.Value{}, err
	}
	return dsl.Value{Kind: dsl.ValueList, List: items}, nil
}

func (p *Parser) parseObject() (dsl.Value, error) {
	if _, err := p.expect(dsl.TokenLBrace, "'{'"); err != nil {
		return dsl.Value{}, err
	}
	obj := map[string]dsl.Value{}
	for p.cur().Kind != dsl.TokenRBrace {
		if p.cur().Kind == dsl.TokenEOF {
			return dsl.Value{}, p.errorf("unexpected end of input, expected '}'")
		}
		fieldTok, err := p.expect(dsl.TokenIdent, "a field name")
		if err != nil {
			return dsl.Value{}, err
		}
		if _, err := p.expect(dsl.TokenColon, "':' after field name"); err != nil {
			return dsl.Value{}, err
		}
		v, err := p.parseValue(fieldTok.Text)
		if err != nil {
			return dsl.Value{}, err
		}
		obj[fieldTok.Text] = v
		if p.cur().Kind == dsl.TokenComma {
			p.advance()
		}
	}
	if _, err := p.expect(dsl.TokenRBrace, "'}'"); err != nil {
		return dsl.Value{}, err
	}
	return dsl.Value{Kind: dsl.ValueObject, Object: obj}, nil
}

// Filter expressions: standard precedence NOT > AND > OR, with
// parenthesized grouping. parseFilterOr is the entry point.
func (p *Parser) parseFilterOr() (*dsl.FilterExpr, error) {
	left, err := p.parseFilterAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == dsl.TokenOr {
		p.advance()
		right, err := p.parseFilterAnd()
		if err != nil {
			return nil, err
		}
		left = &dsl.FilterExpr{Op: dsl.FilterOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseFilterAnd() (*dsl.FilterExpr, error) {
	left, err := p.parseFilterNot()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == dsl.TokenAnd {
		p.advance()
		right, err := p.parseFilterNot()
		if err != nil {
			return nil, err
		}
		left = &dsl.FilterExpr{Op: dsl.FilterAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseFilterNot() (*dsl.FilterExpr, error) {
	if p.cur().Kind == dsl.TokenNot {
		p.advance()
		operand, err := p.parseFilterNot()
		if err != nil {
			return nil, err
		}
		return &dsl.FilterExpr{Op: dsl.FilterNot, Operand: operand}, nil
	}
	return p.parseFilterPrimary()
}

func (p *Parser) parseFilterPrimary() (*dsl.FilterExpr, error) {
	if p.cur().Kind == dsl.TokenLParen {
		p.advance()
		expr, err := p.parseFilterOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(dsl.TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	fieldTok, err := p.expect(dsl.TokenIdent, "a field name in a filter comparison")
	if err != nil {
		return nil, err
	}
	opTok, err := p.expectCmpOp()
	if err != nil {
		return nil, err
	}
	val, err := p.parseValue("")
	if err != nil {
		return nil, err
	}
	return &dsl.FilterExpr{Op: dsl.FilterCmp, Field: fieldTok.Text, CmpOp: opTok, Value: val}, nil
}

// expectCmpOp accepts a comparison operator written as one of the
// identifier words eq, ne, lt, gt, le, ge and returns the corresponding
// symbolic operator (==, !=, <, >, <=, >=). Symbol spellings are not
// accepted: the lexer has no token for them.
func (p *Parser) expectCmpOp() (string, error) {
	tok := p.cur()
	if tok.Kind != dsl.TokenIdent {
		return "", p.errorf("expected a comparison operator")
	}
	switch tok.Text {
	case "eq":
		p.advance()
		return "==", nil
	case "ne":
		p.advance()
		return "!=", nil
	case "lt":
		p.advance()
		return "<", nil
	case "gt":
		p.advance()
		return ">", nil
	case "le":
		p.advance()
		return "<=", nil
	case "ge":
		p.advance()
		return ">=", nil
	default:
		return "", p.errorf("unknown comparison operator %q", tok.Text)
	}
}

func parseDuration(text string) (time.Duration, error) {
	if len(text) < 2 {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	numPart := text[:len(text)-1]
	unit := text[len(text)-1]
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	switch unit {
	case 's':
		return time.Duration(n * float64(time.Second)), nil
	case 'm':
		return time.Duration(n * float64(time.Minute)), nil
	case 'h':
		return time.Duration(n * float64(time.Hour)), nil
	case 'd':
		return time.Duration(n * 24 * float64(time.Hour)), nil
	case 'w':
		return time.Duration(n * 7 * 24 * float64(time.Hour)), nil
	default:
		return 0, fmt.Errorf("unknown duration unit %q", string(unit))
	}
}
