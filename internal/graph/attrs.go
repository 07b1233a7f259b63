// Package graph translates between the SCIM 2.0 resource and filter model
// and the Microsoft Graph API: attribute mapping, OData predicate
// compilation, resource document translation, pagination, and the HTTP
// client that performs the directory calls.
package graph

import "strings"

// ResourceType selects the attribute mapping table.
type ResourceType string

const (
	UserResource  ResourceType = "User"
	GroupResource ResourceType = "Group"
)

// ValueType is the coercion hint for a mapped field.
type ValueType int

const (
	StringType ValueType = iota
	BooleanType
	DateTimeType
	// IdentifierType marks opaque identifiers (object IDs, principal names)
	// that compare for equality only.
	IdentifierType
)

func (t ValueType) String() string {
	switch t {
	case StringType:
		return "string"
	case BooleanType:
		return "boolean"
	case DateTimeType:
		return "datetime"
	case IdentifierType:
		return "identifier"
	}
	return "unknown"
}

// Substring function support per field. Entra ID only indexes a handful of
// fields for endswith, and contains is not available on directory objects at
// all; unsupported functions fall back to client-side re-filtering.
type substringSupport uint8

const (
	startsWith substringSupport = 1 << iota
	endsWith
	contains
)

// Mapping is one row of the SCIM-to-Graph attribute table.
type Mapping struct {
	ScimPath   string
	GraphField string
	Type       ValueType
	Substr     substringSupport
}

// userMappings and groupMappings are the process-wide attribute tables.
// Loaded once into lookup maps at init and read-only afterwards, so
// concurrent lookups need no locking.
var userMappings = []Mapping{
	{ScimPath: "id", GraphField: "id", Type: IdentifierType},
	{ScimPath: "externalId", GraphField: "userPrincipalName", Type: IdentifierType, Substr: startsWith},
	{ScimPath: "userName", GraphField: "userPrincipalName", Type: IdentifierType, Substr: startsWith | endsWith},
	{ScimPath: "displayName", GraphField: "displayName", Type: StringType, Substr: startsWith},
	{ScimPath: "name.givenName", GraphField: "givenName", Type: StringType, Substr: startsWith},
	{ScimPath: "name.familyName", GraphField: "surname", Type: StringType, Substr: startsWith},
	{ScimPath: "emails.value", GraphField: "mail", Type: StringType, Substr: startsWith | endsWith},
	{ScimPath: "emails", GraphField: "mail", Type: StringType, Substr: startsWith | endsWith},
	{ScimPath: "phoneNumbers.value", GraphField: "businessPhones", Type: StringType},
	{ScimPath: "active", GraphField: "accountEnabled", Type: BooleanType},
	{ScimPath: "title", GraphField: "jobTitle", Type: StringType, Substr: startsWith},
	{ScimPath: "meta.created", GraphField: "createdDateTime", Type: DateTimeType},
}

var groupMappings = []Mapping{
	{ScimPath: "id", GraphField: "id", Type: IdentifierType},
	{ScimPath: "externalId", GraphField: "id", Type: IdentifierType},
	{ScimPath: "displayName", GraphField: "displayName", Type: StringType, Substr: startsWith},
	{ScimPath: "meta.created", GraphField: "createdDateTime", Type: DateTimeType},
}

var (
	userTable  = buildTable(userMappings)
	groupTable = buildTable(groupMappings)
)

// buildTable keys mappings by lower-cased SCIM path for case-insensitive
// lookup, per RFC 7644.
func buildTable(mappings []Mapping) map[string]Mapping {
	table := make(map[string]Mapping, len(mappings))
	for _, m := range mappings {
		table[strings.ToLower(m.ScimPath)] = m
	}
	return table
}

// Resolve looks up the Graph mapping for a SCIM attribute path.
func Resolve(rt ResourceType, scimPath string) (Mapping, error) {
	table := userTable
	if rt == GroupResource {
		table = groupTable
	}
	m, ok := table[strings.ToLower(scimPath)]
	if !ok {
		return Mapping{}, &UnknownAttributeError{Path: scimPath}
	}
	return m, nil
}

func (m Mapping) supportsSubstring(fn substringSupport) bool {
	return m.Substr&fn != 0
}
