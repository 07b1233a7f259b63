package graph

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SCIM schema URIs for translated resources.
const (
	UserSchemaURN  = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchemaURN = "urn:ietf:params:scim:schemas:core:2.0:Group"
)

const directoryObjectURL = "https://graph.microsoft.com/v1.0/directoryObjects/"

// MemberResolver supplies display name and resource URL for a group member
// ID. The translator never performs lookups itself; the caller decides how
// (and whether) to resolve members.
type MemberResolver func(ctx context.Context, id string) (display, ref string, err error)

// UserToSCIM converts a Graph user document to a SCIM user document.
// Graph fields without a mapping are omitted, so new directory fields never
// break the output. Audit timestamps are carried into meta only when the
// directory reports them.
func UserToSCIM(graphUser map[string]any) map[string]any {
	doc := map[string]any{
		"schemas": []any{UserSchemaURN},
		"active":  boolField(graphUser, "accountEnabled", true),
	}
	if id, ok := stringField(graphUser, "id"); ok {
		doc["id"] = id
	}
	if upn, ok := stringField(graphUser, "userPrincipalName"); ok {
		doc["userName"] = upn
		doc["externalId"] = upn
	}
	if dn, ok := stringField(graphUser, "displayName"); ok {
		doc["displayName"] = dn
	}
	if title, ok := stringField(graphUser, "jobTitle"); ok {
		doc["title"] = title
	}

	given, _ := stringField(graphUser, "givenName")
	family, _ := stringField(graphUser, "surname")
	if given != "" || family != "" {
		doc["name"] = map[string]any{
			"formatted":  strings.TrimSpace(given + " " + family),
			"givenName":  given,
			"familyName": family,
		}
	}

	// Graph stores a single primary mail; SCIM wants a multi-valued
	// attribute with exactly one entry flagged primary.
	if mail, ok := stringField(graphUser, "mail"); ok {
		doc["emails"] = []any{
			map[string]any{"value": mail, "type": "work", "primary": true},
		}
	}

	if phones, ok := graphUser["businessPhones"].([]any); ok && len(phones) > 0 {
		var numbers []any
		for _, p := range phones {
			if s, ok := p.(string); ok && s != "" {
				numbers = append(numbers, map[string]any{"value": s, "type": "work"})
			}
		}
		if len(numbers) > 0 {
			doc["phoneNumbers"] = numbers
		}
	}

	if meta := metaFromGraph(graphUser, "User"); meta != nil {
		doc["meta"] = meta
	}
	return doc
}

// UserFromSCIM converts a SCIM user document to the Graph user format.
// SCIM attributes without a mapping are dropped and reported through the
// logger rather than silently mutating unrelated directory fields. Absent
// attributes stay absent: Graph PATCH is partial, and a document that never
// mentions active must not flip accountEnabled.
func UserFromSCIM(scimUser map[string]any, logger *slog.Logger) map[string]any {
	graphUser := map[string]any{}
	if _, ok := scimUser["active"]; ok {
		graphUser["accountEnabled"] = boolField(scimUser, "active", true)
	}
	if un, ok := stringField(scimUser, "userName"); ok {
		graphUser["userPrincipalName"] = un
	}
	if dn, ok := stringField(scimUser, "displayName"); ok {
		graphUser["displayName"] = dn
	}
	if title, ok := stringField(scimUser, "title"); ok {
		graphUser["jobTitle"] = title
	}

	if name, ok := scimUser["name"].(map[string]any); ok {
		if given, ok := stringField(name, "givenName"); ok {
			graphUser["givenName"] = given
		}
		if family, ok := stringField(name, "familyName"); ok {
			graphUser["surname"] = family
		}
	}

	if mail := primaryEmail(scimUser); mail != "" {
		graphUser["mail"] = mail
	}

	if phones, ok := scimUser["phoneNumbers"].([]any); ok {
		var numbers []any
		for _, p := range phones {
			entry, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := stringField(entry, "value"); ok {
				numbers = append(numbers, v)
			}
		}
		if len(numbers) > 0 {
			graphUser["businessPhones"] = numbers
		}
	}

	reportUnmapped(scimUser, UserResource, logger)
	return graphUser
}

// GroupToSCIM converts a Graph group document to a SCIM group document.
// Member display and $ref are re-derived through resolve when provided; a
// resolver failure keeps the member ID and moves on.
func GroupToSCIM(ctx context.Context, graphGroup map[string]any, resolve MemberResolver, logger *slog.Logger) map[string]any {
	doc := map[string]any{
		"schemas": []any{GroupSchemaURN},
	}
	if id, ok := stringField(graphGroup, "id"); ok {
		doc["id"] = id
	}
	if dn, ok := stringField(graphGroup, "displayName"); ok {
		doc["displayName"] = dn
	}

	if members := memberIDs(graphGroup); len(members) > 0 {
		out := make([]any, 0, len(members))
		for _, id := range members {
			entry := map[string]any{"value": id}
			if resolve != nil {
				display, ref, err := resolve(ctx, id)
				if err != nil {
					if logger != nil {
						logger.Warn("failed to resolve group member", "member_id", id, "error", err)
					}
				} else {
					if display != "" {
						entry["display"] = display
					}
					if ref != "" {
						entry["$ref"] = ref
					}
				}
			}
			out = append(out, entry)
		}
		doc["members"] = out
	}

	if meta := metaFromGraph(graphGroup, "Group"); meta != nil {
		doc["meta"] = meta
	}
	return doc
}

// GroupFromSCIM converts a SCIM group document to the Graph group format.
// Members become members@odata.bind directory-object URLs.
func GroupFromSCIM(scimGroup map[string]any, logger *slog.Logger) map[string]any {
	graphGroup := map[string]any{}
	if dn, ok := stringField(scimGroup, "displayName"); ok {
		graphGroup["displayName"] = dn
	}

	if members, ok := scimGroup["members"].([]any); ok {
		var refs []any
		for _, m := range members {
			entry, ok := m.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := stringField(entry, "value"); ok {
				refs = append(refs, directoryObjectURL+id)
			}
		}
		if len(refs) > 0 {
			graphGroup["members@odata.bind"] = refs
		}
	}

	reportUnmapped(scimGroup, GroupResource, logger)
	return graphGroup
}

// memberIDs extracts member object IDs from either a members@odata.bind
// list of URLs or an expanded members collection.
func memberIDs(graphGroup map[string]any) []string {
	var ids []string
	if bind, ok := graphGroup["members@odata.bind"].([]any); ok {
		for _, ref := range bind {
			if url, ok := ref.(string); ok {
				if i := strings.LastIndex(url, "/"); i >= 0 && i+1 < len(url) {
					ids = append(ids, url[i+1:])
				}
			}
		}
		return ids
	}
	if members, ok := graphGroup["members"].([]any); ok {
		for _, m := range members {
			if entry, ok := m.(map[string]any); ok {
				if id, ok := stringField(entry, "id"); ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// metaFromGraph builds the SCIM meta block from Graph audit timestamps,
// omitting fields the directory did not report rather than fabricating them.
func metaFromGraph(graphDoc map[string]any, resourceType string) map[string]any {
	meta := map[string]any{"resourceType": resourceType}
	found := false
	if created, ok := stringField(graphDoc, "createdDateTime"); ok {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			meta["created"] = ts.UTC().Format(time.RFC3339)
			found = true
		}
	}
	if modified, ok := stringField(graphDoc, "lastModifiedDateTime"); ok {
		if ts, err := time.Parse(time.RFC3339, modified); err == nil {
			meta["lastModified"] = ts.UTC().Format(time.RFC3339)
			found = true
		}
	}
	if !found {
		return nil
	}
	return meta
}

// primaryEmail picks the primary entry of the SCIM emails attribute, falling
// back to the first entry with a value.
func primaryEmail(scimUser map[string]any) string {
	emails, ok := scimUser["emails"].([]any)
	if !ok {
		return ""
	}
	first := ""
	for _, e := range emails {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		value, _ := stringField(entry, "value")
		if value == "" {
			continue
		}
		if first == "" {
			first = value
		}
		if primary, _ := entry["primary"].(bool); primary {
			return value
		}
	}
	return first
}

// translatedUserAttrs and translatedGroupAttrs are the top-level SCIM
// attributes each write translation consumes; anything else is unmapped.
var translatedUserAttrs = map[string]bool{
	"schemas": true, "id": true, "externalid": true, "username": true,
	"displayname": true, "name": true, "emails": true, "phonenumbers": true,
	"active": true, "title": true, "meta": true, "password": true,
}

var translatedGroupAttrs = map[string]bool{
	"schemas": true, "id": true, "externalid": true, "displayname": true,
	"members": true, "meta": true,
}

func reportUnmapped(scimDoc map[string]any, rt ResourceType, logger *slog.Logger) {
	if logger == nil {
		return
	}
	known := translatedUserAttrs
	if rt == GroupResource {
		known = translatedGroupAttrs
	}
	for key := range scimDoc {
		if !known[strings.ToLower(key)] {
			logger.Warn("dropping unmapped attribute on write",
				"attribute", key, "resource_type", string(rt))
		}
	}
}

func stringField(doc map[string]any, key string) (string, bool) {
	s, ok := doc[key].(string)
	return s, ok && s != ""
}

func boolField(doc map[string]any, key string, def bool) bool {
	switch v := doc[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return def
}
