package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricjhill/scim-server/internal/filter"
)

func mustParse(t *testing.T, input string) filter.Expr {
	t.Helper()
	expr, err := filter.Parse(input)
	require.NoError(t, err)
	return expr
}

func testUser() map[string]any {
	return map[string]any{
		"userName":    "alice@example.com",
		"displayName": "Alice",
		"active":      true,
		"name": map[string]any{
			"givenName":  "Alice",
			"familyName": "Smith",
		},
		"emails": []any{
			map[string]any{"value": "alice@example.com", "type": "work", "primary": true},
			map[string]any{"value": "alice@home.test", "type": "home"},
		},
	}
}

func TestMatches_Equality(t *testing.T) {
	doc := testUser()
	assert.True(t, filter.Matches(mustParse(t, `userName eq "alice@example.com"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `userName eq "ALICE@EXAMPLE.COM"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `userName eq "bob@example.com"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `active eq true`), doc))
	assert.False(t, filter.Matches(mustParse(t, `active ne true`), doc))
}

func TestMatches_DottedPath(t *testing.T) {
	doc := testUser()
	assert.True(t, filter.Matches(mustParse(t, `name.givenName eq "Alice"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `name.familyName eq "Jones"`), doc))
}

func TestMatches_MultiValuedAnyMatch(t *testing.T) {
	doc := testUser()
	// Either email entry may satisfy the comparison.
	assert.True(t, filter.Matches(mustParse(t, `emails.value eq "alice@home.test"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `emails.type eq "work"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `emails.value eq "other@test"`), doc))
}

func TestMatches_Substring(t *testing.T) {
	doc := testUser()
	assert.True(t, filter.Matches(mustParse(t, `userName co "example"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `userName sw "alice"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `userName ew ".com"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `userName sw "bob"`), doc))
}

func TestMatches_Presence(t *testing.T) {
	doc := testUser()
	assert.True(t, filter.Matches(mustParse(t, `userName pr`), doc))
	assert.False(t, filter.Matches(mustParse(t, `title pr`), doc))
}

func TestMatches_Logical(t *testing.T) {
	doc := testUser()
	assert.True(t, filter.Matches(mustParse(t, `userName sw "alice" and active eq true`), doc))
	assert.False(t, filter.Matches(mustParse(t, `userName sw "bob" and active eq true`), doc))
	assert.True(t, filter.Matches(mustParse(t, `userName sw "bob" or active eq true`), doc))
	assert.True(t, filter.Matches(mustParse(t, `not (userName sw "bob")`), doc))
}

// Comparisons against absent attributes are false; only pr tests absence.
func TestMatches_AbsentAttribute(t *testing.T) {
	doc := testUser()
	assert.False(t, filter.Matches(mustParse(t, `bogus eq "x"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `not (bogus eq "x")`), doc))
}

// Quoted boolean literals match boolean values, mirroring the coercion the
// native predicate applies for Entra's active eq "True" spelling.
func TestMatches_QuotedBoolean(t *testing.T) {
	doc := testUser()
	assert.True(t, filter.Matches(mustParse(t, `active eq "True"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `active eq "true"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `active eq "False"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `active ne "False"`), doc))
	// Only eq/ne apply to booleans; a non-boolean literal never matches.
	assert.False(t, filter.Matches(mustParse(t, `active co "tru"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `active eq "yes"`), doc))
}

func TestMatches_Ordering(t *testing.T) {
	doc := map[string]any{
		"meta": map[string]any{"created": "2023-06-01T00:00:00Z"},
	}
	assert.True(t, filter.Matches(mustParse(t, `meta.created gt "2023-01-01T00:00:00Z"`), doc))
	assert.False(t, filter.Matches(mustParse(t, `meta.created lt "2023-01-01T00:00:00Z"`), doc))
	assert.True(t, filter.Matches(mustParse(t, `meta.created ge "2023-06-01T00:00:00Z"`), doc))
}
