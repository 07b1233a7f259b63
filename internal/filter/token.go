package filter

import "fmt"

// TokenKind classifies a lexed token.
type TokenKind int

const (
	// TokenAttr is a dotted attribute path such as "name.givenName".
	TokenAttr TokenKind = iota
	// TokenOperator is a comparison operator keyword (eq, ne, co, sw, ew,
	// gt, ge, lt, le, pr).
	TokenOperator
	// TokenAnd, TokenOr and TokenNot are the logical keywords.
	TokenAnd
	TokenOr
	TokenNot
	// TokenString is a double-quoted string literal, unescaped.
	TokenString
	// TokenNumber is a numeric literal.
	TokenNumber
	// TokenBool is "true" or "false".
	TokenBool
	TokenLParen
	TokenRParen
)

func (k TokenKind) String() string {
	switch k {
	case TokenAttr:
		return "attribute"
	case TokenOperator:
		return "operator"
	case TokenAnd:
		return "and"
	case TokenOr:
		return "or"
	case TokenNot:
		return "not"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBool:
		return "boolean"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	}
	return "unknown"
}

// Token is a single lexeme of a SCIM filter expression. Pos is the byte
// offset of the token's first character in the original input.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// SyntaxError reports a malformed filter expression. Pos is the byte offset
// of the offending character or token.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter at position %d: %s", e.Pos, e.Msg)
}

// UnsupportedError reports filter syntax that is valid SCIM but outside the
// supported subset, such as complex attribute sub-filters
// (emails[type eq "work"]).
type UnsupportedError struct {
	Pos     int
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported filter construct at position %d: %s", e.Pos, e.Feature)
}
