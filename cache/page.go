package cache

// Page is the canonical shape of one page of a remote collection.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// NewPage builds a page enforcing its invariants: page and limit are at
// least 1, TotalPages is ceil(TotalCount/Limit) but never below 1, and
// Items holds at most Limit entries.
func NewPage[T any](items []T, totalCount, page, limit int) Page[T] {
	p := Page[T]{Items: items, TotalCount: totalCount, Page: page, Limit: limit}
	return p.Normalize()
}

// Normalize returns a copy with the page invariants restored.
func (p Page[T]) Normalize() Page[T] {
	if p.Limit < 1 {
		p.Limit = len(p.Items)
		if p.Limit < 1 {
			p.Limit = 1
		}
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.TotalCount < 0 {
		p.TotalCount = 0
	}
	if len(p.Items) > p.Limit {
		p.Items = p.Items[:p.Limit]
	}
	p.TotalPages = TotalPages(p.TotalCount, p.Limit)
	return p
}

// TotalPages returns ceil(total/limit), with one empty page for zero items.
func TotalPages(total, limit int) int {
	if limit < 1 || total <= 0 {
		return 1
	}
	return (total + limit - 1) / limit
}
