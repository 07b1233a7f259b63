package scim

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ricjhill/scim-server/internal/filter"
	"github.com/ricjhill/scim-server/internal/graph"
)

// Directory is the backing directory service behind the bridge. The Graph
// client implements it; tests substitute fakes. All network I/O lives behind
// this boundary; the handlers and the filter core never touch the wire.
type Directory interface {
	ListUsers(ctx context.Context, pred graph.Predicate, page graph.PageRequest) (graph.Page, error)
	GetUser(ctx context.Context, id string) (map[string]any, error)
	CreateUser(ctx context.Context, scimUser map[string]any) (map[string]any, error)
	ReplaceUser(ctx context.Context, id string, scimUser map[string]any) (map[string]any, error)
	DeleteUser(ctx context.Context, id string) error

	ListGroups(ctx context.Context, pred graph.Predicate, page graph.PageRequest) (graph.Page, error)
	GetGroup(ctx context.Context, id string, resolve graph.MemberResolver) (map[string]any, error)
	CreateGroup(ctx context.Context, scimGroup map[string]any) (map[string]any, error)
	ReplaceGroup(ctx context.Context, id string, scimGroup map[string]any, resolve graph.MemberResolver) (map[string]any, error)
	DeleteGroup(ctx context.Context, id string) error
	AddGroupMembers(ctx context.Context, groupID string, memberIDs []string) error
	RemoveGroupMember(ctx context.Context, groupID, memberID string) error
}

// Handler serves the SCIM v2 API over a Directory.
type Handler struct {
	dir       Directory
	logger    *slog.Logger
	tokenHash string
	limiter   *rateLimiter
}

// defaultCount caps unpaginated list requests, matching the maxResults
// advertised by ServiceProviderConfig.
const defaultCount = 100

// NewHandler creates an http.Handler serving all SCIM v2 routes.
// tokenHash is the bcrypt hash the bearer token is verified against.
func NewHandler(dir Directory, tokenHash string, logger *slog.Logger) http.Handler {
	h := &Handler{
		dir:       dir,
		logger:    logger,
		tokenHash: tokenHash,
		limiter:   newRateLimiter(60, time.Minute),
	}

	mux := http.NewServeMux()

	// Discovery endpoints
	mux.HandleFunc("GET /scim/v2/ServiceProviderConfig", h.withAuth(h.serviceProviderConfig))
	mux.HandleFunc("GET /scim/v2/Schemas", h.withAuth(h.schemas))
	mux.HandleFunc("GET /scim/v2/ResourceTypes", h.withAuth(h.resourceTypes))

	// User endpoints
	mux.HandleFunc("GET /scim/v2/Users", h.withAuth(h.listUsers))
	mux.HandleFunc("POST /scim/v2/Users", h.withAuth(h.createUser))
	mux.HandleFunc("GET /scim/v2/Users/{id}", h.withAuth(h.getUser))
	mux.HandleFunc("PUT /scim/v2/Users/{id}", h.withAuth(h.replaceUser))
	mux.HandleFunc("PATCH /scim/v2/Users/{id}", h.withAuth(h.patchUser))
	mux.HandleFunc("DELETE /scim/v2/Users/{id}", h.withAuth(h.deleteUser))

	// Group endpoints
	mux.HandleFunc("GET /scim/v2/Groups", h.withAuth(h.listGroups))
	mux.HandleFunc("POST /scim/v2/Groups", h.withAuth(h.createGroup))
	mux.HandleFunc("GET /scim/v2/Groups/{id}", h.withAuth(h.getGroup))
	mux.HandleFunc("PUT /scim/v2/Groups/{id}", h.withAuth(h.replaceGroup))
	mux.HandleFunc("PATCH /scim/v2/Groups/{id}", h.withAuth(h.patchGroup))
	mux.HandleFunc("DELETE /scim/v2/Groups/{id}", h.withAuth(h.deleteGroup))

	return h.withRequestLog(mux)
}

// withRequestLog tags every request with a ULID and logs it on completion.
func (h *Handler) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ulid.Make().String()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		h.logger.Info("scim request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// pageFromQuery reads startIndex and count, applying SCIM defaults.
func pageFromQuery(r *http.Request) (graph.PageRequest, error) {
	page := graph.PageRequest{StartIndex: 1, Count: defaultCount}
	if s := r.URL.Query().Get("startIndex"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return page, &graph.InvalidPaginationError{Param: "startIndex", Raw: s}
		}
		page.StartIndex = v
	}
	if c := r.URL.Query().Get("count"); c != "" {
		v, err := strconv.Atoi(c)
		if err != nil {
			return page, &graph.InvalidPaginationError{Param: "count", Raw: c}
		}
		page.Count = v
	}
	if err := page.Validate(); err != nil {
		return page, err
	}
	return page, nil
}

// compileQuery parses and compiles the request's filter parameter. A missing
// filter yields the always-exact empty predicate.
func compileQuery(r *http.Request, rt graph.ResourceType) (graph.Predicate, error) {
	filterStr := r.URL.Query().Get("filter")
	if filterStr == "" {
		return graph.Predicate{Exact: true}, nil
	}
	expr, err := filter.Parse(filterStr)
	if err != nil {
		return graph.Predicate{}, err
	}
	return graph.Compile(r.Context(), expr, rt)
}

// listEnvelope builds the SCIM list response for one fetched page.
func (h *Handler) listEnvelope(page graph.Page, req graph.PageRequest, resourcePath, baseURL string) SCIMListResponse {
	if page.TotalEstimated {
		h.logger.Warn("directory did not report an exact total; totalResults reflects fetched items only",
			"resource_path", resourcePath)
	}
	resources := make([]any, 0, len(page.Items))
	for _, item := range page.Items {
		injectLocation(item, baseURL+resourcePath)
		resources = append(resources, item)
	}
	return SCIMListResponse{
		Schemas:      []string{ListResponseSchema},
		TotalResults: page.Total,
		StartIndex:   req.StartIndex,
		ItemsPerPage: page.ItemsPerPage(req),
		Resources:    resources,
	}
}

// injectLocation sets meta.location on a resource document from its id.
func injectLocation(doc map[string]any, collectionURL string) {
	id, _ := doc["id"].(string)
	if id == "" {
		return
	}
	meta, ok := doc["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		doc["meta"] = meta
	}
	meta["location"] = collectionURL + "/" + id
}

// memberResolver derives group member display and $ref through the directory.
func (h *Handler) memberResolver(baseURL string) graph.MemberResolver {
	return func(ctx context.Context, id string) (string, string, error) {
		user, err := h.dir.GetUser(ctx, id)
		if err != nil {
			return "", "", err
		}
		display, _ := user["displayName"].(string)
		return display, baseURL + "/Users/" + id, nil
	}
}

// baseURLFromRequest constructs the SCIM base URL from the request.
func baseURLFromRequest(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "https" || fwd == "http" {
			scheme = fwd
		} else {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s/scim/v2", scheme, r.Host)
}
