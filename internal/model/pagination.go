package model

import "ergon.app/erp/common/apperr"

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

type Pagination struct {
	Page    int `json:"page" form:"page"`
	PerPage int `json:"per_page" form:"per_page"`
}

// Normalize clamps the request into page >= 1 and per_page in [1, max].
func (p Pagination) Normalize(max int) Pagination {
	if max < 1 || max > MaxPerPage {
		max = MaxPerPage
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > max {
		p.PerPage = max
	}
	return p
}

// Validate rejects requests outside the accepted bounds instead of clamping them.
func (p Pagination) Validate(max int) error {
	if max < 1 || max > MaxPerPage {
		max = MaxPerPage
	}
	if p.Page < 1 {
		return apperr.Validation("page must be at least 1")
	}
	if p.PerPage < 1 || p.PerPage > max {
		return apperr.Validation("per_page must be between 1 and %d", max)
	}
	return nil
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

type Paginated[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
}

func (p Paginated[T]) TotalPages() int64 {
	if p.PerPage <= 0 {
		return 0
	}
	per := int64(p.PerPage)
	return (p.TotalCount + per - 1) / per
}
