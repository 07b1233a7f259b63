package scim_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ricjhill/scim-server/internal/filter"
	"github.com/ricjhill/scim-server/internal/graph"
	"github.com/ricjhill/scim-server/internal/scim"
)

const testToken = "test-scim-token"

// fakeDirectory is an in-memory Directory that records the arguments of the
// last call and serves canned results.
type fakeDirectory struct {
	users  map[string]map[string]any
	groups map[string]map[string]any

	lastPred graph.Predicate
	lastPage graph.PageRequest
	lastDoc  map[string]any

	addedMembers  []string
	removedMember string

	err error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:  map[string]map[string]any{},
		groups: map[string]map[string]any{},
	}
}

func (f *fakeDirectory) list(pred graph.Predicate, page graph.PageRequest, docs map[string]map[string]any) (graph.Page, error) {
	f.lastPred, f.lastPage = pred, page
	if f.err != nil {
		return graph.Page{}, f.err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc)
	}
	return graph.Page{Items: items, Total: len(items)}, nil
}

func (f *fakeDirectory) ListUsers(ctx context.Context, pred graph.Predicate, page graph.PageRequest) (graph.Page, error) {
	return f.list(pred, page, f.users)
}

func (f *fakeDirectory) GetUser(ctx context.Context, id string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.users[id]
	if !ok {
		return nil, &graph.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	return doc, nil
}

func (f *fakeDirectory) CreateUser(ctx context.Context, scimUser map[string]any) (map[string]any, error) {
	f.lastDoc = scimUser
	if f.err != nil {
		return nil, f.err
	}
	created := map[string]any{"id": "new-user"}
	for k, v := range scimUser {
		created[k] = v
	}
	return created, nil
}

func (f *fakeDirectory) ReplaceUser(ctx context.Context, id string, scimUser map[string]any) (map[string]any, error) {
	f.lastDoc = scimUser
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.users[id]; !ok {
		return nil, &graph.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	return map[string]any{"id": id}, nil
}

func (f *fakeDirectory) DeleteUser(ctx context.Context, id string) error {
	if _, ok := f.users[id]; !ok {
		return &graph.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	delete(f.users, id)
	return nil
}

func (f *fakeDirectory) ListGroups(ctx context.Context, pred graph.Predicate, page graph.PageRequest) (graph.Page, error) {
	return f.list(pred, page, f.groups)
}

func (f *fakeDirectory) GetGroup(ctx context.Context, id string, resolve graph.MemberResolver) (map[string]any, error) {
	doc, ok := f.groups[id]
	if !ok {
		return nil, &graph.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	return doc, nil
}

func (f *fakeDirectory) CreateGroup(ctx context.Context, scimGroup map[string]any) (map[string]any, error) {
	f.lastDoc = scimGroup
	created := map[string]any{"id": "new-group"}
	for k, v := range scimGroup {
		created[k] = v
	}
	return created, nil
}

func (f *fakeDirectory) ReplaceGroup(ctx context.Context, id string, scimGroup map[string]any, resolve graph.MemberResolver) (map[string]any, error) {
	f.lastDoc = scimGroup
	if _, ok := f.groups[id]; !ok {
		return nil, &graph.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	return map[string]any{"id": id}, nil
}

func (f *fakeDirectory) DeleteGroup(ctx context.Context, id string) error {
	if _, ok := f.groups[id]; !ok {
		return &graph.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	delete(f.groups, id)
	return nil
}

func (f *fakeDirectory) AddGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	f.addedMembers = append(f.addedMembers, memberIDs...)
	return nil
}

func (f *fakeDirectory) RemoveGroupMember(ctx context.Context, groupID, memberID string) error {
	f.removedMember = memberID
	return nil
}

type testEnv struct {
	dir     *fakeDirectory
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	dir := newFakeDirectory()
	return &testEnv{
		dir:     dir,
		handler: scim.NewHandler(dir, string(hash), logger),
	}
}

func (env *testEnv) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + testToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/scim/v2/Users", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestAuth_RejectsBadContentType(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/scim/v2/Users", strings.NewReader("<xml/>"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestListUsers_FilterCompiled(t *testing.T) {
	env := newTestEnv(t)
	env.dir.users["u-1"] = map[string]any{"id": "u-1", "userName": "alice@example.com"}

	rec := env.request(t, http.MethodGet,
		`/scim/v2/Users?filter=`+`userName%20eq%20%22alice%40example.com%22`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/scim+json", rec.Header().Get("Content-Type"))

	// The SCIM attribute is rewritten to its directory counterpart.
	assert.Equal(t, "userPrincipalName eq 'alice@example.com'", env.dir.lastPred.Filter)
	assert.True(t, env.dir.lastPred.Exact)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["totalResults"])
	assert.Equal(t, float64(1), body["startIndex"])
	assert.Equal(t, float64(1), body["itemsPerPage"])

	resources := body["Resources"].([]any)
	require.Len(t, resources, 1)
	user := resources[0].(map[string]any)
	assert.Equal(t, "alice@example.com", user["userName"])
	meta := user["meta"].(map[string]any)
	assert.Equal(t, "http://example.com/scim/v2/Users/u-1", meta["location"])
}

func TestListUsers_NoFilter(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/scim/v2/Users", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, env.dir.lastPred.Filter)
	assert.True(t, env.dir.lastPred.Exact)
	assert.Equal(t, 1, env.dir.lastPage.StartIndex)
	assert.Equal(t, 100, env.dir.lastPage.Count)
}

func TestListUsers_Pagination(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/scim/v2/Users?startIndex=6&count=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, env.dir.lastPage.StartIndex)
	assert.Equal(t, 5, env.dir.lastPage.Count)
}

func TestListUsers_QueryErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name     string
		target   string
		scimType string
	}{
		{"malformed filter", "/scim/v2/Users?filter=userName%20eq", "invalidFilter"},
		{"unknown attribute", "/scim/v2/Users?filter=bogus%20eq%20%22x%22", "invalidFilter"},
		{"sub-filter syntax", "/scim/v2/Users?filter=emails%5Btype%20eq%20%22work%22%5D%20pr", "invalidFilter"},
		{"ordering on boolean", "/scim/v2/Users?filter=active%20gt%20%22x%22", "invalidValue"},
		{"startIndex zero", "/scim/v2/Users?startIndex=0", "invalidValue"},
		{"negative count", "/scim/v2/Users?count=-1", "invalidValue"},
		{"non-numeric count", "/scim/v2/Users?count=lots", "invalidValue"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.request(t, http.MethodGet, tc.target, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tc.scimType, body["scimType"])
			assert.Equal(t, "400", body["status"])
			assert.Equal(t, []any{scim.ErrorSchema}, body["schemas"])
		})
	}
}

// The error detail names the pagination text the client actually sent.
func TestListUsers_NonNumericPaginationDetail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/scim/v2/Users?count=lots", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "invalidValue", body["scimType"])
	assert.Equal(t, `invalid pagination parameter count="lots"`, body["detail"])
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/scim/v2/Users", map[string]any{
		"schemas":  []string{scim.UserSchema},
		"userName": "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "new-user", body["id"])
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "http://example.com/scim/v2/Users/new-user", meta["location"])
}

func TestCreateUser_MissingUserName(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/scim/v2/Users", map[string]any{
		"displayName": "No Name",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalidValue", decodeBody(t, rec)["scimType"])
}

func TestGetUser_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/scim/v2/Users/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "resource not found", decodeBody(t, rec)["detail"])
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	env.dir.users["u-1"] = map[string]any{"id": "u-1"}

	rec := env.request(t, http.MethodDelete, "/scim/v2/Users/u-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, env.dir.users, "u-1")
}

func TestPatchUser_Deactivate(t *testing.T) {
	env := newTestEnv(t)
	env.dir.users["u-1"] = map[string]any{"id": "u-1"}

	rec := env.request(t, http.MethodPatch, "/scim/v2/Users/u-1", map[string]any{
		"schemas": []string{scim.PatchOpSchema},
		"Operations": []map[string]any{
			// Entra sends booleans as capitalized strings on PATCH.
			{"op": "Replace", "path": "active", "value": "False"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"active": false}, env.dir.lastDoc)
}

func TestPatchUser_NoPathObjectValue(t *testing.T) {
	env := newTestEnv(t)
	env.dir.users["u-1"] = map[string]any{"id": "u-1"}

	rec := env.request(t, http.MethodPatch, "/scim/v2/Users/u-1", map[string]any{
		"Operations": []map[string]any{
			{"op": "replace", "value": map[string]any{
				"displayName":     "New Name",
				"name.givenName":  "New",
				"name.familyName": "Name",
			}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New Name", env.dir.lastDoc["displayName"])
	name := env.dir.lastDoc["name"].(map[string]any)
	assert.Equal(t, "New", name["givenName"])
	assert.Equal(t, "Name", name["familyName"])
}

func TestPatchUser_FilteredPathRejected(t *testing.T) {
	env := newTestEnv(t)
	env.dir.users["u-1"] = map[string]any{"id": "u-1"}

	rec := env.request(t, http.MethodPatch, "/scim/v2/Users/u-1", map[string]any{
		"Operations": []map[string]any{
			{"op": "replace", "path": `emails[type eq "work"].value`, "value": "x@y.com"},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalidPath", decodeBody(t, rec)["scimType"])
}

func TestPatchGroup_AddMembers(t *testing.T) {
	env := newTestEnv(t)
	env.dir.groups["g-1"] = map[string]any{"id": "g-1", "displayName": "Engineering"}

	rec := env.request(t, http.MethodPatch, "/scim/v2/Groups/g-1", map[string]any{
		"schemas": []string{scim.PatchOpSchema},
		"Operations": []map[string]any{
			{"op": "add", "path": "members", "value": []map[string]any{
				{"value": "u-1"}, {"value": "u-2"},
			}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u-1", "u-2"}, env.dir.addedMembers)
}

func TestPatchGroup_RemoveMemberByPath(t *testing.T) {
	env := newTestEnv(t)
	env.dir.groups["g-1"] = map[string]any{"id": "g-1"}

	rec := env.request(t, http.MethodPatch, "/scim/v2/Groups/g-1", map[string]any{
		"Operations": []map[string]any{
			{"op": "remove", "path": `members[value eq "u-1"]`},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", env.dir.removedMember)
}

func TestPatchGroup_Rename(t *testing.T) {
	env := newTestEnv(t)
	env.dir.groups["g-1"] = map[string]any{"id": "g-1", "displayName": "Old"}

	rec := env.request(t, http.MethodPatch, "/scim/v2/Groups/g-1", map[string]any{
		"Operations": []map[string]any{
			{"op": "replace", "path": "displayName", "value": "New"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New", env.dir.lastDoc["displayName"])
}

func TestCreateGroup_MissingDisplayName(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/scim/v2/Groups", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalidValue", decodeBody(t, rec)["scimType"])
}

func TestServiceProviderConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/scim/v2/ServiceProviderConfig", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	patch := body["patch"].(map[string]any)
	assert.Equal(t, true, patch["supported"])
	filterCfg := body["filter"].(map[string]any)
	assert.Equal(t, true, filterCfg["supported"])
	assert.Equal(t, float64(100), filterCfg["maxResults"])
	bulk := body["bulk"].(map[string]any)
	assert.Equal(t, false, bulk["supported"])
}

func TestResourceTypes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/scim/v2/ResourceTypes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	resources := body["Resources"].([]any)
	require.Len(t, resources, 2)
}

// Full path through parser, compiler and Graph client against a fake backend:
// the SCIM filter arrives as an OData $filter and only the matching user
// comes back in the list envelope.
func TestEndToEnd_FilteredList(t *testing.T) {
	records := []map[string]any{
		{"id": "1", "displayName": "Alice", "userPrincipalName": "alice@example.com", "mail": "alice@example.com"},
		{"id": "2", "displayName": "Bob", "userPrincipalName": "bob@example.com", "mail": "bob@example.com"},
	}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users", r.URL.Path)
		require.Equal(t, "eventual", r.Header.Get("ConsistencyLevel"))

		matched := records
		if f := r.URL.Query().Get("$filter"); f == "userPrincipalName eq 'alice@example.com'" {
			matched = records[:1]
		}
		json.NewEncoder(w).Encode(map[string]any{
			"@odata.count": len(matched),
			"value":        matched,
		})
	}))
	t.Cleanup(backend.Close)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	client := graph.NewClientWithHTTP(backend.Client(), backend.URL, logger)
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)
	handler := scim.NewHandler(client, string(hash), logger)

	req := httptest.NewRequest(http.MethodGet,
		"/scim/v2/Users?filter=userName%20eq%20%22alice%40example.com%22", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["totalResults"])

	resources := body["Resources"].([]any)
	require.Len(t, resources, 1)
	assert.Equal(t, "alice@example.com", resources[0].(map[string]any)["userName"])
}

// The residual expression applied after a degraded fetch must agree with the
// native predicate on every document it would have selected.
func TestResidualConsistency(t *testing.T) {
	expr, err := filter.Parse(`displayName co "ali" and active eq true`)
	require.NoError(t, err)
	pred, err := graph.Compile(context.Background(), expr, graph.UserResource)
	require.NoError(t, err)
	require.False(t, pred.Exact)

	match := map[string]any{"displayName": "Alice", "active": true}
	noMatch := map[string]any{"displayName": "Bob", "active": true}
	assert.True(t, filter.Matches(pred.Residual, match))
	assert.False(t, filter.Matches(pred.Residual, noMatch))
}

// A literal the compiler accepts through coercion must also match in the
// residual, or the degraded fetch drops every row it selected.
func TestResidualConsistency_QuotedBoolean(t *testing.T) {
	expr, err := filter.Parse(`displayName co "ali" and active eq "True"`)
	require.NoError(t, err)
	pred, err := graph.Compile(context.Background(), expr, graph.UserResource)
	require.NoError(t, err)
	require.False(t, pred.Exact)
	assert.Equal(t, "accountEnabled eq true", pred.Filter)

	enabled := map[string]any{"displayName": "Alice", "active": true}
	disabled := map[string]any{"displayName": "Alice", "active": false}
	assert.True(t, filter.Matches(pred.Residual, enabled))
	assert.False(t, filter.Matches(pred.Residual, disabled))
}
