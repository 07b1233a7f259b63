package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ricjhill/scim-server/internal/filter"
)

// Predicate is a compiled OData $filter fragment for the Graph list APIs.
//
// When Exact is false the native filter only selects a superset (possibly
// everything): the fetch layer must re-apply Residual to every item with
// filter.Matches before trusting results or counts.
type Predicate struct {
	Filter   string
	Exact    bool
	Residual filter.Expr
}

// Compile walks a parsed filter expression and emits the Graph OData
// predicate for it. Compiling the same expression twice yields identical
// output. Every logical and not node is parenthesized on emission so the
// native evaluation order mirrors the AST regardless of OData's own
// precedence rules.
//
// Conditions that Graph cannot evaluate natively (contains on directory
// fields, endswith outside the indexed few) are never silently dropped:
// under pure-and ancestry the remaining conjuncts still narrow the fetch,
// under or/not the native filter collapses to empty, and in both cases the
// full original expression is returned as the client-side residual.
func Compile(ctx context.Context, e filter.Expr, rt ResourceType) (Predicate, error) {
	clause, exact, err := compileExpr(ctx, e, rt)
	if err != nil {
		return Predicate{}, err
	}
	p := Predicate{Filter: clause, Exact: exact}
	if !exact {
		p.Residual = e
	}
	return p, nil
}

// compileExpr returns the emitted clause and whether it is an exact
// translation. An empty clause with exact=false means the subtree must be
// evaluated entirely client-side.
func compileExpr(ctx context.Context, e filter.Expr, rt ResourceType) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	switch n := e.(type) {
	case *filter.Comparison:
		return compileComparison(n, rt)

	case *filter.Logical:
		left, leftExact, err := compileExpr(ctx, n.Left, rt)
		if err != nil {
			return "", false, err
		}
		right, rightExact, err := compileExpr(ctx, n.Right, rt)
		if err != nil {
			return "", false, err
		}
		if n.Op == filter.LogicalAnd {
			// An inexact conjunct can be dropped: the fetch returns a
			// superset and the residual narrows it.
			switch {
			case left == "":
				return right, false, nil
			case right == "":
				return left, false, nil
			}
			return fmt.Sprintf("(%s and %s)", left, right), leftExact && rightExact, nil
		}
		// A disjunction with an inexpressible arm cannot narrow the fetch
		// without losing matches.
		if left == "" || right == "" {
			return "", false, nil
		}
		return fmt.Sprintf("(%s or %s)", left, right), leftExact && rightExact, nil

	case *filter.Not:
		inner, exact, err := compileExpr(ctx, n.Expr, rt)
		if err != nil {
			return "", false, err
		}
		// Negating an approximate clause would exclude rows the residual
		// still needs to see.
		if !exact {
			return "", false, nil
		}
		return fmt.Sprintf("(not %s)", inner), true, nil
	}

	return "", false, fmt.Errorf("unknown filter node %T", e)
}

func compileComparison(c *filter.Comparison, rt ResourceType) (string, bool, error) {
	m, err := Resolve(rt, c.Attr)
	if err != nil {
		return "", false, err
	}

	switch c.Op {
	case filter.OpPr:
		return m.GraphField + " ne null", true, nil

	case filter.OpEq, filter.OpNe:
		val, err := odataLiteral(m, c)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%s %s %s", m.GraphField, c.Op, val), true, nil

	case filter.OpCo, filter.OpSw, filter.OpEw:
		if m.Type == BooleanType || m.Type == DateTimeType {
			return "", false, &UnsupportedOperatorError{Op: string(c.Op), Attr: c.Attr}
		}
		if c.Value.Kind != filter.StringLit {
			return "", false, &TypeMismatchError{Attr: c.Attr, Want: StringType, Got: literalKind(c.Value)}
		}
		fn, support := substringFunc(c.Op)
		if !m.supportsSubstring(support) {
			// Client-side only for this field.
			return "", false, nil
		}
		return fmt.Sprintf("%s(%s,%s)", fn, m.GraphField, quoteOData(c.Value.Str)), true, nil

	case filter.OpGt, filter.OpGe, filter.OpLt, filter.OpLe:
		if !orderable(m, c.Value) {
			return "", false, &TypeMismatchError{Attr: c.Attr, Want: m.Type, Got: literalKind(c.Value)}
		}
		val, err := odataLiteral(m, c)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%s %s %s", m.GraphField, c.Op, val), true, nil
	}

	return "", false, &UnsupportedOperatorError{Op: string(c.Op), Attr: c.Attr}
}

// orderable reports whether an ordering comparison makes sense for the
// mapped field and literal: datetime fields, or string/number fields with a
// numeric literal.
func orderable(m Mapping, lit filter.Literal) bool {
	switch m.Type {
	case DateTimeType:
		return lit.Kind == filter.StringLit || lit.Kind == filter.NumberLit
	case StringType:
		return lit.Kind == filter.NumberLit
	}
	return false
}

// odataLiteral renders the comparison literal in OData syntax, coerced to
// the mapped field's value type.
func odataLiteral(m Mapping, c *filter.Comparison) (string, error) {
	lit := c.Value
	switch m.Type {
	case BooleanType:
		if c.Op != filter.OpEq && c.Op != filter.OpNe {
			return "", &TypeMismatchError{Attr: c.Attr, Want: BooleanType, Got: literalKind(lit)}
		}
		switch lit.Kind {
		case filter.BoolLit:
			return strconv.FormatBool(lit.Bool), nil
		case filter.StringLit:
			// Entra's own SCIM client sends active eq "True".
			if b, err := strconv.ParseBool(strings.ToLower(lit.Str)); err == nil {
				return strconv.FormatBool(b), nil
			}
		}
		return "", &TypeMismatchError{Attr: c.Attr, Want: BooleanType, Got: literalKind(lit)}

	case DateTimeType:
		if lit.Kind != filter.StringLit {
			return "", &TypeMismatchError{Attr: c.Attr, Want: DateTimeType, Got: literalKind(lit)}
		}
		ts, err := time.Parse(time.RFC3339, lit.Str)
		if err != nil {
			return "", &TypeMismatchError{Attr: c.Attr, Want: DateTimeType, Got: fmt.Sprintf("string %q", lit.Str)}
		}
		// OData v4 datetime literals are unquoted.
		return ts.UTC().Format(time.RFC3339), nil
	}

	switch lit.Kind {
	case filter.StringLit:
		return quoteOData(lit.Str), nil
	case filter.NumberLit:
		return strconv.FormatFloat(lit.Num, 'f', -1, 64), nil
	case filter.BoolLit:
		return "", &TypeMismatchError{Attr: c.Attr, Want: m.Type, Got: literalKind(lit)}
	}
	return "", &TypeMismatchError{Attr: c.Attr, Want: m.Type, Got: literalKind(lit)}
}

func substringFunc(op filter.Operator) (string, substringSupport) {
	switch op {
	case filter.OpSw:
		return "startswith", startsWith
	case filter.OpEw:
		return "endswith", endsWith
	default:
		return "contains", contains
	}
}

// quoteOData single-quotes a string literal, doubling embedded quotes.
func quoteOData(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func literalKind(lit filter.Literal) string {
	switch lit.Kind {
	case filter.StringLit:
		return "string"
	case filter.NumberLit:
		return "number"
	case filter.BoolLit:
		return "boolean"
	}
	return "null"
}
