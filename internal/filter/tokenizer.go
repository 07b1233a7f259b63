package filter

import (
	"fmt"
	"strings"
)

// comparison operator keywords, matched case-insensitively.
var operatorKeywords = map[string]bool{
	"eq": true, "ne": true, "co": true, "sw": true, "ew": true,
	"gt": true, "ge": true, "lt": true, "le": true, "pr": true,
}

// Tokenize lexes a SCIM filter expression into a flat token stream.
// Whitespace separates tokens and is otherwise insignificant.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, Token{Kind: TokenLParen, Text: "(", Pos: i})
			i++
		case c == ')':
			tokens = append(tokens, Token{Kind: TokenRParen, Text: ")", Pos: i})
			i++
		case c == '[':
			return nil, &UnsupportedError{Pos: i, Feature: "complex attribute sub-filter"}
		case c == '"':
			text, next, err := scanString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: text, Pos: i})
			i = next
		case isWordChar(c):
			start := i
			for i < len(input) && isWordChar(input[i]) {
				i++
			}
			tokens = append(tokens, classifyWord(input[start:i], start))
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	return tokens, nil
}

// scanString consumes a double-quoted string literal starting at input[start].
// Backslash escapes \" and \\ inside the literal. Returns the unescaped text
// and the offset past the closing quote.
func scanString(input string, start int) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch c {
		case '"':
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(input) {
				return "", 0, &SyntaxError{Pos: i, Msg: "unterminated escape sequence"}
			}
			next := input[i+1]
			if next != '"' && next != '\\' {
				return "", 0, &SyntaxError{Pos: i, Msg: fmt.Sprintf("invalid escape sequence \\%c", next)}
			}
			b.WriteByte(next)
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string literal"}
}

// classifyWord turns a bare word into a keyword, literal or attribute token.
func classifyWord(word string, pos int) Token {
	lower := strings.ToLower(word)
	switch {
	case lower == "and":
		return Token{Kind: TokenAnd, Text: lower, Pos: pos}
	case lower == "or":
		return Token{Kind: TokenOr, Text: lower, Pos: pos}
	case lower == "not":
		return Token{Kind: TokenNot, Text: lower, Pos: pos}
	case operatorKeywords[lower]:
		return Token{Kind: TokenOperator, Text: lower, Pos: pos}
	case lower == "true" || lower == "false":
		return Token{Kind: TokenBool, Text: lower, Pos: pos}
	case isNumeric(word):
		return Token{Kind: TokenNumber, Text: word, Pos: pos}
	}
	return Token{Kind: TokenAttr, Text: word, Pos: pos}
}

// isWordChar reports whether c may appear in a bare word: attribute paths
// (letters, digits, '.', ':', '_', '-', '$') and numeric literals.
func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == ':' || c == '_' || c == '-' || c == '$' || c == '+'
}

// isNumeric reports whether word is an integer or decimal literal.
func isNumeric(word string) bool {
	if word == "" {
		return false
	}
	i := 0
	if word[0] == '-' || word[0] == '+' {
		i = 1
	}
	digits := false
	dot := false
	for ; i < len(word); i++ {
		switch {
		case word[i] >= '0' && word[i] <= '9':
			digits = true
		case word[i] == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits
}
