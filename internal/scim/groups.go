package scim

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ricjhill/scim-server/internal/graph"
)

// listGroups handles GET /scim/v2/Groups
func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	pred, err := compileQuery(r, graph.GroupResource)
	if err != nil {
		if !writeQueryError(w, err) {
			h.logger.Error("failed to compile group filter", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to compile filter")
		}
		return
	}

	result, err := h.dir.ListGroups(r.Context(), pred, page)
	if err != nil {
		h.logger.Error("failed to list groups", "error", err)
		writeDirectoryError(w, err, "failed to list groups")
		return
	}

	writeJSON(w, http.StatusOK, h.listEnvelope(result, page, "/Groups", baseURLFromRequest(r)))
}

// createGroup handles POST /scim/v2/Groups
func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	limitBody(r)
	var scimGroup map[string]any
	if err := json.NewDecoder(r.Body).Decode(&scimGroup); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	displayName, _ := scimGroup["displayName"].(string)
	if displayName == "" {
		writeTypedError(w, http.StatusBadRequest, scimTypeInvalidValue, "displayName is required")
		return
	}

	created, err := h.dir.CreateGroup(r.Context(), scimGroup)
	if err != nil {
		h.logger.Error("failed to create group", "display_name", displayName, "error", err)
		writeDirectoryError(w, err, "failed to create group")
		return
	}

	injectLocation(created, baseURLFromRequest(r)+"/Groups")
	writeJSON(w, http.StatusCreated, created)
}

// getGroup handles GET /scim/v2/Groups/{id}
func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing group id")
		return
	}

	baseURL := baseURLFromRequest(r)
	group, err := h.dir.GetGroup(r.Context(), id, h.memberResolver(baseURL))
	if err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to get group", "group_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to get group")
		return
	}

	injectLocation(group, baseURL+"/Groups")
	writeJSON(w, http.StatusOK, group)
}

// replaceGroup handles PUT /scim/v2/Groups/{id}
func (h *Handler) replaceGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing group id")
		return
	}

	limitBody(r)
	var scimGroup map[string]any
	if err := json.NewDecoder(r.Body).Decode(&scimGroup); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	baseURL := baseURLFromRequest(r)
	updated, err := h.dir.ReplaceGroup(r.Context(), id, scimGroup, h.memberResolver(baseURL))
	if err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to replace group", "group_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to replace group")
		return
	}

	injectLocation(updated, baseURL+"/Groups")
	writeJSON(w, http.StatusOK, updated)
}

// patchGroup handles PATCH /scim/v2/Groups/{id}. Membership changes arrive
// as add/remove operations on the members path; attribute changes as
// replace operations.
func (h *Handler) patchGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing group id")
		return
	}

	limitBody(r)
	var patch SCIMPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	partial := map[string]any{}

	for _, op := range patch.Operations {
		switch strings.ToLower(op.Op) {
		case "add":
			if !strings.EqualFold(op.Path, "members") {
				writeTypedError(w, http.StatusBadRequest, scimTypeInvalidPath, "add is only supported for members")
				return
			}
			ids := memberValues(op.Value)
			if len(ids) == 0 {
				writeTypedError(w, http.StatusBadRequest, scimTypeInvalidValue, "members add requires member values")
				return
			}
			if err := h.dir.AddGroupMembers(ctx, id, ids); err != nil {
				h.logger.Error("failed to add group members", "group_id", id, "error", err)
				writeDirectoryError(w, err, "failed to add group members")
				return
			}

		case "remove":
			memberID, ok := removeMemberID(op)
			if !ok {
				writeTypedError(w, http.StatusBadRequest, scimTypeInvalidPath, "remove requires a members path or member values")
				return
			}
			if err := h.dir.RemoveGroupMember(ctx, id, memberID); err != nil {
				h.logger.Error("failed to remove group member", "group_id", id, "member_id", memberID, "error", err)
				writeDirectoryError(w, err, "failed to remove group member")
				return
			}

		case "replace":
			if strings.EqualFold(op.Path, "displayName") {
				partial["displayName"] = op.Value
			} else if op.Path == "" {
				valueMap, ok := op.Value.(map[string]any)
				if !ok {
					writeTypedError(w, http.StatusBadRequest, scimTypeInvalidValue, "replace without path requires an object value")
					return
				}
				for key, val := range valueMap {
					if strings.EqualFold(key, "displayName") {
						partial["displayName"] = val
					}
				}
			} else {
				writeTypedError(w, http.StatusBadRequest, scimTypeInvalidPath, "unsupported attribute path: "+op.Path)
				return
			}

		default:
			writeError(w, http.StatusBadRequest, "unsupported patch op: "+op.Op)
			return
		}
	}

	baseURL := baseURLFromRequest(r)
	resolve := h.memberResolver(baseURL)

	var (
		updated map[string]any
		err     error
	)
	if len(partial) > 0 {
		updated, err = h.dir.ReplaceGroup(ctx, id, partial, resolve)
	} else {
		updated, err = h.dir.GetGroup(ctx, id, resolve)
	}
	if err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to read back patched group", "group_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to patch group")
		return
	}

	injectLocation(updated, baseURL+"/Groups")
	writeJSON(w, http.StatusOK, updated)
}

// deleteGroup handles DELETE /scim/v2/Groups/{id}
func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing group id")
		return
	}

	if err := h.dir.DeleteGroup(r.Context(), id); err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to delete group", "group_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to delete group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// memberValues extracts member IDs from a PATCH members value: an array of
// {value: id} objects, or a single such object.
func memberValues(v any) []string {
	var ids []string
	entries, ok := v.([]any)
	if !ok {
		entries = []any{v}
	}
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := entry["value"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// removeMemberID extracts the member ID of a remove operation, either from a
// filtered path (members[value eq "id"]) or from the operation value.
func removeMemberID(op SCIMPatchOp) (string, bool) {
	path := strings.TrimSpace(op.Path)
	if strings.HasPrefix(strings.ToLower(path), "members[") {
		// members[value eq "<id>"]
		start := strings.Index(path, "\"")
		end := strings.LastIndex(path, "\"")
		if start >= 0 && end > start {
			return path[start+1 : end], true
		}
		return "", false
	}
	if strings.EqualFold(path, "members") || path == "" {
		if ids := memberValues(op.Value); len(ids) > 0 {
			return ids[0], true
		}
	}
	return "", false
}
