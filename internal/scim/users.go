package scim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ricjhill/scim-server/internal/graph"
)

// listUsers handles GET /scim/v2/Users
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	pred, err := compileQuery(r, graph.UserResource)
	if err != nil {
		if !writeQueryError(w, err) {
			h.logger.Error("failed to compile user filter", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to compile filter")
		}
		return
	}

	result, err := h.dir.ListUsers(r.Context(), pred, page)
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		writeDirectoryError(w, err, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, h.listEnvelope(result, page, "/Users", baseURLFromRequest(r)))
}

// createUser handles POST /scim/v2/Users
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	limitBody(r)
	var scimUser map[string]any
	if err := json.NewDecoder(r.Body).Decode(&scimUser); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userName, _ := scimUser["userName"].(string)
	if userName == "" {
		writeTypedError(w, http.StatusBadRequest, scimTypeInvalidValue, "userName is required")
		return
	}

	created, err := h.dir.CreateUser(r.Context(), scimUser)
	if err != nil {
		h.logger.Error("failed to create user", "user_name", userName, "error", err)
		writeDirectoryError(w, err, "failed to create user")
		return
	}

	injectLocation(created, baseURLFromRequest(r)+"/Users")
	writeJSON(w, http.StatusCreated, created)
}

// getUser handles GET /scim/v2/Users/{id}
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	user, err := h.dir.GetUser(r.Context(), id)
	if err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to get user", "user_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to get user")
		return
	}

	injectLocation(user, baseURLFromRequest(r)+"/Users")
	writeJSON(w, http.StatusOK, user)
}

// replaceUser handles PUT /scim/v2/Users/{id}
func (h *Handler) replaceUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	limitBody(r)
	var scimUser map[string]any
	if err := json.NewDecoder(r.Body).Decode(&scimUser); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := h.dir.ReplaceUser(r.Context(), id, scimUser)
	if err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to replace user", "user_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to replace user")
		return
	}

	injectLocation(updated, baseURLFromRequest(r)+"/Users")
	writeJSON(w, http.StatusOK, updated)
}

// patchUser handles PATCH /scim/v2/Users/{id}. Supported operations are
// add/replace on simple top-level paths (and no-path replace with an object
// value); the patched attributes are folded into one partial document and
// applied through the directory.
func (h *Handler) patchUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	limitBody(r)
	var patch SCIMPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	partial := map[string]any{}
	for _, op := range patch.Operations {
		switch strings.ToLower(op.Op) {
		case "replace", "add":
			if err := foldUserPatchOp(partial, op); err != nil {
				writeTypedError(w, http.StatusBadRequest, scimTypeInvalidPath, err.Error())
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "unsupported patch op: "+op.Op)
			return
		}
	}

	updated, err := h.dir.ReplaceUser(r.Context(), id, partial)
	if err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to patch user", "user_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to patch user")
		return
	}

	injectLocation(updated, baseURLFromRequest(r)+"/Users")
	writeJSON(w, http.StatusOK, updated)
}

// foldUserPatchOp merges one add/replace operation into the partial document.
func foldUserPatchOp(partial map[string]any, op SCIMPatchOp) error {
	path := op.Path
	if path == "" {
		// No path: the value is an object of attributes to replace.
		valueMap, ok := op.Value.(map[string]any)
		if !ok {
			return &patchPathError{path: path, reason: "replace without path requires an object value"}
		}
		for key, val := range valueMap {
			if err := foldUserPatchOp(partial, SCIMPatchOp{Op: op.Op, Path: key, Value: val}); err != nil {
				return err
			}
		}
		return nil
	}

	if strings.ContainsAny(path, "[]") {
		return &patchPathError{path: path, reason: "value selection filters are not supported"}
	}

	switch {
	case strings.EqualFold(path, "active"):
		partial["active"] = coerceBool(op.Value)
	case strings.EqualFold(path, "userName"):
		partial["userName"] = op.Value
	case strings.EqualFold(path, "displayName"):
		partial["displayName"] = op.Value
	case strings.EqualFold(path, "title"):
		partial["title"] = op.Value
	case strings.EqualFold(path, "emails"):
		partial["emails"] = op.Value
	case strings.EqualFold(path, "phoneNumbers"):
		partial["phoneNumbers"] = op.Value
	case strings.EqualFold(path, "name.givenName"), strings.EqualFold(path, "name.familyName"):
		name, ok := partial["name"].(map[string]any)
		if !ok {
			name = map[string]any{}
			partial["name"] = name
		}
		sub := path[strings.Index(path, ".")+1:]
		name[sub] = op.Value
	default:
		return &patchPathError{path: path, reason: "unsupported attribute path"}
	}
	return nil
}

// patchPathError reports an unsupported or malformed PATCH path.
type patchPathError struct {
	path   string
	reason string
}

func (e *patchPathError) Error() string {
	return fmt.Sprintf("invalid patch path %q: %s", e.path, e.reason)
}

// coerceBool accepts the boolean spellings Entra's provisioning client is
// known to send: true, "true", "True".
func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

// deleteUser handles DELETE /scim/v2/Users/{id}
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	if err := h.dir.DeleteUser(r.Context(), id); err != nil {
		if !graph.IsNotFound(err) {
			h.logger.Error("failed to delete user", "user_id", id, "error", err)
		}
		writeDirectoryError(w, err, "failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
