package filter

import (
	"strconv"
	"strings"
)

// Matches evaluates a filter expression against a SCIM resource document.
// It is the client-side re-filter used when a compiled native predicate is
// only approximate: the fetch layer applies it to every item of a page
// before trusting the results.
//
// Attribute lookup follows SCIM semantics: paths are case-insensitive,
// stepping through a multi-valued complex attribute matches if any element
// matches, and comparisons against an absent attribute are false (presence
// is the one operator that tests absence directly).
func Matches(e Expr, doc map[string]any) bool {
	switch n := e.(type) {
	case *Comparison:
		return matchComparison(n, doc)
	case *Logical:
		if n.Op == LogicalAnd {
			return Matches(n.Left, doc) && Matches(n.Right, doc)
		}
		return Matches(n.Left, doc) || Matches(n.Right, doc)
	case *Not:
		return !Matches(n.Expr, doc)
	}
	return false
}

func matchComparison(c *Comparison, doc map[string]any) bool {
	values := lookup(doc, strings.Split(c.Attr, "."))
	if c.Op == OpPr {
		return len(values) > 0
	}
	for _, v := range values {
		if compareValue(v, c.Op, c.Value) {
			return true
		}
	}
	return false
}

// lookup resolves a dotted attribute path to the scalar values it addresses.
// Arrays fan out: "emails.value" yields the value of every email entry. A
// path that stops at a complex value yields nothing.
func lookup(v any, path []string) []any {
	if len(path) == 0 {
		switch v.(type) {
		case map[string]any:
			return nil
		case nil:
			return nil
		case []any:
			arr := v.([]any)
			var out []any
			for _, item := range arr {
				out = append(out, lookup(item, path)...)
			}
			return out
		}
		return []any{v}
	}

	switch t := v.(type) {
	case map[string]any:
		for key, val := range t {
			if strings.EqualFold(key, path[0]) {
				return lookup(val, path[1:])
			}
		}
	case []any:
		var out []any
		for _, item := range t {
			out = append(out, lookup(item, path)...)
		}
		return out
	}
	return nil
}

// compareValue applies a single comparison operator to one attribute value.
// String comparisons are case-insensitive, matching the caseExact=false
// default of the SCIM core schema attributes this bridge maps.
func compareValue(v any, op Operator, lit Literal) bool {
	switch lit.Kind {
	case BoolLit:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return b == lit.Bool
		case OpNe:
			return b != lit.Bool
		}
		return false

	case NumberLit:
		num, ok := asNumber(v)
		if !ok {
			return false
		}
		return compareOrdered(num, lit.Num, op)

	case StringLit:
		// Quoted booleans ("True") compare against boolean values the same
		// way the native predicate does.
		if bv, ok := v.(bool); ok {
			lb, err := strconv.ParseBool(strings.ToLower(lit.Str))
			if err != nil {
				return false
			}
			switch op {
			case OpEq:
				return bv == lb
			case OpNe:
				return bv != lb
			}
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		a, b := strings.ToLower(s), strings.ToLower(lit.Str)
		switch op {
		case OpEq:
			return a == b
		case OpNe:
			return a != b
		case OpCo:
			return strings.Contains(a, b)
		case OpSw:
			return strings.HasPrefix(a, b)
		case OpEw:
			return strings.HasSuffix(a, b)
		case OpGt, OpGe, OpLt, OpLe:
			// Lexical order covers RFC 3339 timestamps.
			switch op {
			case OpGt:
				return a > b
			case OpGe:
				return a >= b
			case OpLt:
				return a < b
			default:
				return a <= b
			}
		}
	}
	return false
}

func compareOrdered(a, b float64, op Operator) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	}
	return 0, false
}
