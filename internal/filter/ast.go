// Package filter implements the SCIM filter expression language from
// RFC 7644 section 3.4.2.2: tokenizing, parsing into an AST, and evaluating
// a parsed expression against a resource document.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is a SCIM comparison operator.
type Operator string

const (
	OpEq Operator = "eq"
	OpNe Operator = "ne"
	OpCo Operator = "co"
	OpSw Operator = "sw"
	OpEw Operator = "ew"
	OpGt Operator = "gt"
	OpGe Operator = "ge"
	OpLt Operator = "lt"
	OpLe Operator = "le"
	OpPr Operator = "pr"
)

// LiteralKind tags the scalar type of a comparison value.
type LiteralKind int

const (
	// NullLit marks the absent value of a presence comparison.
	NullLit LiteralKind = iota
	StringLit
	NumberLit
	BoolLit
)

// Literal is a scalar comparison value.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
	Bool bool
}

func (l Literal) String() string {
	switch l.Kind {
	case StringLit:
		return strconv.Quote(l.Str)
	case NumberLit:
		return strconv.FormatFloat(l.Num, 'f', -1, 64)
	case BoolLit:
		return strconv.FormatBool(l.Bool)
	}
	return "null"
}

// Expr is a node of a parsed filter expression. The node set is closed:
// Comparison, Logical and Not. Expressions are immutable after construction
// and never shared between requests.
type Expr interface {
	// String renders the node as canonical filter text.
	String() string

	isExpr()
}

// Comparison is a leaf node comparing an attribute against a literal.
// Value.Kind is NullLit exactly when Op is OpPr.
type Comparison struct {
	Attr  string
	Op    Operator
	Value Literal
}

func (c *Comparison) isExpr() {}

func (c *Comparison) String() string {
	if c.Op == OpPr {
		return c.Attr + " pr"
	}
	return fmt.Sprintf("%s %s %s", c.Attr, c.Op, c.Value)
}

// LogicalOp is the connective of a Logical node.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
)

// Logical combines two sub-expressions with "and" or "or".
type Logical struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

func (l *Logical) isExpr() {}

func (l *Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", l.Left, l.Op, l.Right)
}

// Not negates its inner expression.
type Not struct {
	Expr Expr
}

func (n *Not) isExpr() {}

func (n *Not) String() string {
	return "not (" + n.Expr.String() + ")"
}

// Attributes returns every attribute path referenced by the expression, in
// first-appearance order without duplicates.
func Attributes(e Expr) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Comparison:
			key := strings.ToLower(n.Attr)
			if !seen[key] {
				seen[key] = true
				out = append(out, n.Attr)
			}
		case *Logical:
			walk(n.Left)
			walk(n.Right)
		case *Not:
			walk(n.Expr)
		}
	}
	walk(e)
	return out
}
