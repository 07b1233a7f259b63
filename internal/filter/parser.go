package filter

import (
	"fmt"
	"strconv"
)

// Parse tokenizes and parses a SCIM filter expression. Precedence from
// lowest to highest: or, and, not, grouping and comparison. Parsing is
// syntax-only; attribute names are validated later when the expression is
// compiled against the attribute mapping.
func Parse(input string) (Expr, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &SyntaxError{Pos: 0, Msg: "empty filter expression"}
	}
	p := &parser{tokens: tokens, end: len(input)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected trailing %s %q", tok.Kind, tok.Text)}
	}
	return expr, nil
}

type parser struct {
	tokens []Token
	pos    int
	end    int // input length, for errors at end of input
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (Token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

// parseOr handles the lowest-precedence connective, left-associatively.
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != TokenOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: LogicalOr, Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != TokenAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: LogicalAnd, Left: left, Right: right}
	}
}

// parseUnary handles "not", parenthesized groups and comparisons.
func (p *parser) parseUnary() (Expr, error) {
	tok, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: "expected expression, found end of filter"}
	}

	switch tok.Kind {
	case TokenNot:
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil

	case TokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.next()
		if !ok {
			return nil, &SyntaxError{Pos: p.end, Msg: "expected ), found end of filter"}
		}
		if closing.Kind != TokenRParen {
			return nil, &SyntaxError{Pos: closing.Pos, Msg: fmt.Sprintf("expected ), found %s %q", closing.Kind, closing.Text)}
		}
		return inner, nil

	case TokenAttr:
		return p.parseComparison(tok)
	}

	return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("expected attribute, not or (, found %s %q", tok.Kind, tok.Text)}
}

// parseComparison parses "attr op value" or the value-less "attr pr".
func (p *parser) parseComparison(attr Token) (Expr, error) {
	op, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: fmt.Sprintf("expected operator after %q, found end of filter", attr.Text)}
	}
	if op.Kind != TokenOperator {
		return nil, &SyntaxError{Pos: op.Pos, Msg: fmt.Sprintf("expected operator after %q, found %s %q", attr.Text, op.Kind, op.Text)}
	}

	if op.Text == string(OpPr) {
		return &Comparison{Attr: attr.Text, Op: OpPr, Value: Literal{Kind: NullLit}}, nil
	}

	val, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: fmt.Sprintf("operator %q requires a value", op.Text)}
	}

	var lit Literal
	switch val.Kind {
	case TokenString:
		lit = Literal{Kind: StringLit, Str: val.Text}
	case TokenNumber:
		num, err := strconv.ParseFloat(val.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: val.Pos, Msg: fmt.Sprintf("invalid number %q", val.Text)}
		}
		lit = Literal{Kind: NumberLit, Num: num}
	case TokenBool:
		lit = Literal{Kind: BoolLit, Bool: val.Text == "true"}
	default:
		return nil, &SyntaxError{Pos: val.Pos, Msg: fmt.Sprintf("expected value after %q, found %s %q", op.Text, val.Kind, val.Text)}
	}

	return &Comparison{Attr: attr.Text, Op: Operator(op.Text), Value: lit}, nil
}
