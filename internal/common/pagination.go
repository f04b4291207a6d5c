package common

import (
	"net/http"
	"strconv"
)

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// ParsePagination extracts page and per-page parameters from query values.
// perPage is capped at maxPerPage when maxPerPage is positive.
func ParsePagination(r *http.Request, defaultPerPage, maxPerPage int) (page, perPage int) {
	page = 1
	perPage = defaultPerPage
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		perPage = l
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return
}

// Window returns the [start, end) bounds of the requested page over total items.
// Pages past the end yield an empty window at TotalItems.
func (p Pagination) Window() (start, end int) {
	if p.Page < 1 || p.PerPage <= 0 || p.Page-1 > p.TotalItems/p.PerPage {
		return p.TotalItems, p.TotalItems
	}
	start = min((p.Page-1)*p.PerPage, p.TotalItems)
	end = start + min(p.PerPage, p.TotalItems-start)
	return start, end
}
