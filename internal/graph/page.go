package graph

// PageRequest carries SCIM pagination parameters: 1-based StartIndex and the
// maximum number of resources to return. Count of zero asks for totals only.
type PageRequest struct {
	StartIndex int
	Count      int
}

// Validate rejects out-of-range pagination parameters before any fetch.
func (p PageRequest) Validate() error {
	if p.StartIndex < 1 {
		return &InvalidPaginationError{Param: "startIndex", Value: p.StartIndex}
	}
	if p.Count < 0 {
		return &InvalidPaginationError{Param: "count", Value: p.Count}
	}
	return nil
}

// Skip converts the 1-based SCIM startIndex to the 0-based OData $skip.
func (p PageRequest) Skip() int {
	return p.StartIndex - 1
}

// Page is one fetched page of translated SCIM resource documents.
//
// TotalEstimated is set when Graph did not report @odata.count, or when an
// inexact predicate forced client-side re-filtering: in both cases Total only
// reflects the items actually seen, and callers may want to surface that.
type Page struct {
	Items          []map[string]any
	Total          int
	TotalEstimated bool
}

// ItemsPerPage computes the SCIM list-response itemsPerPage value for this
// page: the number of returned items, capped by the requested count.
func (pg Page) ItemsPerPage(req PageRequest) int {
	if len(pg.Items) < req.Count {
		return len(pg.Items)
	}
	return req.Count
}
