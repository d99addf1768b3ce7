// Package pagination parses limit/skip paging parameters from query strings
// for the admin list endpoints.
package pagination

import (
	"net/url"
	"strconv"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Limit int // Number of items per page
	Skip  int // Number of items to skip
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit = 200
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit = 50
)

// PaginationOption is a function type for configuring pagination parameters.
type PaginationOption func(*Params)

// WithDefaultLimit returns a PaginationOption that sets the default limit.
// The limit is only applied if it's greater than 0.
func WithDefaultLimit(limit int) PaginationOption {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// GetPaginationParams extracts limit and skip from URL query values.
// Invalid values fall back to the defaults; the limit is capped at MaxLimit.
func GetPaginationParams(q url.Values, opts ...PaginationOption) Params {
	params := Params{
		Limit: DefaultLimit,
		Skip:  0,
	}

	for _, opt := range opts {
		opt(&params)
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 {
			params.Limit = val
		}
	}

	if skipStr := q.Get("skip"); skipStr != "" {
		if val, err := strconv.Atoi(skipStr); err == nil && val >= 0 {
			params.Skip = val
		}
	}

	// enforce max limit
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}

	return params
}

// HasMore reports whether items remain after the returned page.
func HasMore(skip, returned, total int) bool {
	return total > skip+returned
}
