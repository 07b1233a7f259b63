package graph

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ricjhill/scim-server/internal/filter"
)

const (
	// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	graphScope = "https://graph.microsoft.com/.default"

	// maxFetchWindow caps how many rows an inexact predicate may pull for
	// client-side re-filtering in a single page request.
	maxFetchWindow = 999
)

// ClientConfig holds Entra ID app registration credentials.
type ClientConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// BaseURL overrides the Graph endpoint; used by tests.
	BaseURL string
}

// Client calls the Microsoft Graph API. It owns token acquisition (OAuth2
// client credentials) and all network I/O; filter compilation and resource
// translation stay purely computational.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient builds a Graph client that authenticates with the client
// credentials flow against the tenant's token endpoint.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{graphScope},
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = 30 * time.Second
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// NewClientWithHTTP builds a Graph client around an existing HTTP client,
// bypassing token acquisition. Used by tests against a fake Graph backend.
func NewClientWithHTTP(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL, logger: logger}
}

// ListUsers fetches a page of users matching the compiled predicate and
// returns them as SCIM documents.
func (c *Client) ListUsers(ctx context.Context, pred Predicate, page PageRequest) (Page, error) {
	return c.list(ctx, "/users", pred, page, UserToSCIM)
}

// ListGroups fetches a page of groups matching the compiled predicate.
// Members are not expanded on list; GetGroup resolves them.
func (c *Client) ListGroups(ctx context.Context, pred Predicate, page PageRequest) (Page, error) {
	return c.list(ctx, "/groups", pred, page, func(doc map[string]any) map[string]any {
		return GroupToSCIM(ctx, doc, nil, c.logger)
	})
}

// list performs a paginated Graph query and translates each row.
//
// When the predicate is inexact the native $filter only selects a superset,
// so skip/top cannot be pushed down: the window is fetched from the start,
// the residual expression is applied per item, and the page is sliced
// afterwards. Totals are flagged as estimated in that mode.
func (c *Client) list(ctx context.Context, path string, pred Predicate, page PageRequest, translate func(map[string]any) map[string]any) (Page, error) {
	if err := page.Validate(); err != nil {
		return Page{}, err
	}

	q := url.Values{}
	q.Set("$count", "true")
	if pred.Filter != "" {
		q.Set("$filter", pred.Filter)
	}

	top := page.Count
	if top == 0 {
		// Totals only; Graph rejects $top=0.
		top = 1
	}
	if pred.Exact {
		if skip := page.Skip(); skip > 0 {
			q.Set("$skip", strconv.Itoa(skip))
		}
		q.Set("$top", strconv.Itoa(top))
	} else {
		window := page.Skip() + top
		if window > maxFetchWindow {
			window = maxFetchWindow
		}
		q.Set("$top", strconv.Itoa(window))
	}

	var result struct {
		Count *int             `json:"@odata.count"`
		Value []map[string]any `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &result); err != nil {
		return Page{}, err
	}

	items := make([]map[string]any, 0, len(result.Value))
	for _, row := range result.Value {
		items = append(items, translate(row))
	}

	if pred.Exact {
		pg := Page{Items: items}
		if result.Count != nil {
			pg.Total = *result.Count
		} else {
			pg.Total = len(items)
			pg.TotalEstimated = true
		}
		if page.Count == 0 {
			pg.Items = nil
		}
		return pg, nil
	}

	// Degraded mode: re-filter, then paginate locally.
	matched := items[:0]
	for _, item := range items {
		if filter.Matches(pred.Residual, item) {
			matched = append(matched, item)
		}
	}
	c.logger.Debug("applied client-side re-filter",
		"residual", pred.Residual.String(),
		"fetched", len(items), "matched", len(matched))

	pg := Page{Total: len(matched), TotalEstimated: true}
	if page.Count == 0 {
		return pg, nil
	}
	start := page.Skip()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Count
	if end > len(matched) {
		end = len(matched)
	}
	pg.Items = matched[start:end]
	return pg, nil
}

// GetUser fetches one user by object ID or userPrincipalName.
func (c *Client) GetUser(ctx context.Context, id string) (map[string]any, error) {
	var doc map[string]any
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return UserToSCIM(doc), nil
}

// CreateUser provisions a user from a SCIM document. Entra requires a
// password profile on creation; when the SCIM client supplies none, a
// forced-change temporary password is generated.
func (c *Client) CreateUser(ctx context.Context, scimUser map[string]any) (map[string]any, error) {
	graphUser := UserFromSCIM(scimUser, c.logger)
	upn, ok := graphUser["userPrincipalName"].(string)
	if !ok || upn == "" {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: "userName (userPrincipalName) is required"}
	}
	if graphUser["displayName"] == nil {
		// Graph requires displayName on creation.
		graphUser["displayName"] = upn
	}
	if _, ok := graphUser["accountEnabled"]; !ok {
		// Required on creation; new users start enabled.
		graphUser["accountEnabled"] = true
	}
	graphUser["mailNickname"] = mailNickname(upn)
	if pw, ok := scimUser["password"].(string); ok && pw != "" {
		graphUser["passwordProfile"] = map[string]any{
			"forceChangePasswordNextSignIn": true,
			"password":                      pw,
		}
	} else {
		graphUser["passwordProfile"] = map[string]any{
			"forceChangePasswordNextSignIn": true,
			"password":                      temporaryPassword(),
		}
	}

	var created map[string]any
	if err := c.do(ctx, http.MethodPost, "/users", graphUser, &created); err != nil {
		return nil, err
	}
	return UserToSCIM(created), nil
}

// ReplaceUser applies a SCIM document to an existing user and returns the
// updated resource. Graph PATCH returns no body, so the user is re-read.
func (c *Client) ReplaceUser(ctx context.Context, id string, scimUser map[string]any) (map[string]any, error) {
	graphUser := UserFromSCIM(scimUser, c.logger)
	if err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(id), graphUser, nil); err != nil {
		return nil, err
	}
	return c.GetUser(ctx, id)
}

// DeleteUser removes a user from the directory.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil)
}

// GetGroup fetches one group with its membership, resolving member display
// names through the directory.
func (c *Client) GetGroup(ctx context.Context, id string, resolve MemberResolver) (map[string]any, error) {
	var doc map[string]any
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}

	var members struct {
		Value []map[string]any `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(id)+"/members", nil, &members); err == nil {
		doc["members"] = toAnySlice(members.Value)
	} else {
		c.logger.Warn("failed to list group members", "group_id", id, "error", err)
	}

	return GroupToSCIM(ctx, doc, resolve, c.logger), nil
}

// CreateGroup provisions a security group from a SCIM document.
func (c *Client) CreateGroup(ctx context.Context, scimGroup map[string]any) (map[string]any, error) {
	graphGroup := GroupFromSCIM(scimGroup, c.logger)
	dn, ok := graphGroup["displayName"].(string)
	if !ok || dn == "" {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: "displayName is required"}
	}
	graphGroup["securityEnabled"] = true
	graphGroup["mailEnabled"] = false
	graphGroup["mailNickname"] = mailNickname(dn)

	var created map[string]any
	if err := c.do(ctx, http.MethodPost, "/groups", graphGroup, &created); err != nil {
		return nil, err
	}
	return GroupToSCIM(ctx, created, nil, c.logger), nil
}

// ReplaceGroup applies a SCIM document to an existing group. Membership
// changes go through AddGroupMembers/RemoveGroupMember; this only patches
// the group's own fields.
func (c *Client) ReplaceGroup(ctx context.Context, id string, scimGroup map[string]any, resolve MemberResolver) (map[string]any, error) {
	graphGroup := GroupFromSCIM(scimGroup, c.logger)
	delete(graphGroup, "members@odata.bind")
	if err := c.do(ctx, http.MethodPatch, "/groups/"+url.PathEscape(id), graphGroup, nil); err != nil {
		return nil, err
	}
	return c.GetGroup(ctx, id, resolve)
}

// DeleteGroup removes a group from the directory.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+url.PathEscape(id), nil, nil)
}

// AddGroupMembers adds directory objects to a group's membership.
func (c *Client) AddGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	for _, id := range memberIDs {
		body := map[string]any{"@odata.id": directoryObjectURL + id}
		if err := c.do(ctx, http.MethodPost, "/groups/"+url.PathEscape(groupID)+"/members/$ref", body, nil); err != nil {
			return fmt.Errorf("add member %s: %w", id, err)
		}
	}
	return nil
}

// RemoveGroupMember removes one directory object from a group's membership.
func (c *Client) RemoveGroupMember(ctx context.Context, groupID, memberID string) error {
	path := "/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(memberID) + "/$ref"
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do performs one Graph request, decoding a JSON response into out when
// non-nil. Advanced query parameters ($count, endswith) require the
// eventual-consistency header on every read.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode graph request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("ConsistencyLevel", "eventual")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call graph api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

// readAPIError extracts the message from a Graph error body.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &payload); err == nil {
		msg = payload.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// mailNickname derives the mandatory mailNickname from a principal name or
// display name: the part before any '@', with characters Graph rejects
// stripped.
func mailNickname(s string) string {
	if i := strings.Index(s, "@"); i > 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "scim"
	}
	return b.String()
}

// temporaryPassword generates a throwaway initial password; the user is
// forced to change it on first sign-in.
func temporaryPassword() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return "Tmp!" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func toAnySlice(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
