// Package scim implements the SCIM v2 REST surface of the bridge: user and
// group provisioning endpoints backed by a directory service, discovery
// documents, bearer authentication and SCIM error envelopes.
package scim

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ricjhill/scim-server/internal/filter"
	"github.com/ricjhill/scim-server/internal/graph"
)

// SCIM schema URIs.
const (
	UserSchema         = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema        = "urn:ietf:params:scim:schemas:core:2.0:Group"
	ListResponseSchema = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	PatchOpSchema      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	ErrorSchema        = "urn:ietf:params:scim:api:messages:2.0:Error"
	SPConfigSchema     = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	ResourceTypeSchema = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
	SchemaSchema       = "urn:ietf:params:scim:schemas:core:2.0:Schema"
)

// SCIM content type.
const scimContentType = "application/scim+json"

// scimType values for error responses, per RFC 7644 section 3.12.
const (
	scimTypeInvalidFilter = "invalidFilter"
	scimTypeInvalidValue  = "invalidValue"
	scimTypeInvalidPath   = "invalidPath"
)

// SCIMError represents a SCIM protocol error response.
type SCIMError struct {
	Schemas  []string `json:"schemas"`
	Detail   string   `json:"detail"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
}

// SCIMListResponse is a SCIM list response envelope.
type SCIMListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// SCIMPatchOp represents a single SCIM PATCH operation.
type SCIMPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// SCIMPatchRequest represents a SCIM PATCH request body.
type SCIMPatchRequest struct {
	Schemas    []string      `json:"schemas"`
	Operations []SCIMPatchOp `json:"Operations"`
}

// writeJSON writes a JSON response with the given status code and SCIM content type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", scimContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a SCIM-formatted error response without a scimType.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeTypedError(w, status, "", detail)
}

// writeTypedError writes a SCIM-formatted error response with a scimType.
func writeTypedError(w http.ResponseWriter, status int, scimType, detail string) {
	writeJSON(w, status, SCIMError{
		Schemas:  []string{ErrorSchema},
		Detail:   detail,
		Status:   strconv.Itoa(status),
		ScimType: scimType,
	})
}

// writeQueryError maps filter, mapping and pagination failures to the SCIM
// error vocabulary: syntax, unknown-attribute and unsupported-operator
// problems are invalidFilter; coercion and pagination problems are
// invalidValue. Returns false when err is not a query validation failure.
func writeQueryError(w http.ResponseWriter, err error) bool {
	var (
		syntaxErr      *filter.SyntaxError
		unsupportedErr *filter.UnsupportedError
		unknownAttr    *graph.UnknownAttributeError
		badOperator    *graph.UnsupportedOperatorError
		typeMismatch   *graph.TypeMismatchError
		badPagination  *graph.InvalidPaginationError
	)
	switch {
	case errors.As(err, &syntaxErr),
		errors.As(err, &unsupportedErr),
		errors.As(err, &unknownAttr),
		errors.As(err, &badOperator):
		writeTypedError(w, http.StatusBadRequest, scimTypeInvalidFilter, err.Error())
	case errors.As(err, &typeMismatch),
		errors.As(err, &badPagination):
		writeTypedError(w, http.StatusBadRequest, scimTypeInvalidValue, err.Error())
	default:
		return false
	}
	return true
}

// writeDirectoryError maps a directory call failure to an HTTP response.
func writeDirectoryError(w http.ResponseWriter, err error, fallback string) {
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			writeError(w, http.StatusNotFound, "resource not found")
			return
		case http.StatusBadRequest, http.StatusConflict:
			writeError(w, apiErr.StatusCode, apiErr.Message)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, fallback)
}

// limitBody caps request bodies at 1 MiB; SCIM provisioning payloads are small.
func limitBody(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
}
