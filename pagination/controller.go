// Package pagination tracks the page and limit of a list view.
//
// The controller resets to the first page whenever the non paging filters
// change and clamps the current page into [1, totalPages] on read, so a page
// that disappeared after a delete is never requested from the remote.
package pagination

import (
	"sync"

	"github.com/goliatone/go-collection-cache/filters"
)

// DefaultLimit is used when New receives a limit below 1.
const DefaultLimit = 10

// State is the pagination state of a view.
type State struct {
	Page  int
	Limit int
}

// Controller is safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	page       int
	limit      int
	totalPages int
	observed   filters.Set
}

// New returns a controller at page 1.
func New(limit int) *Controller {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Controller{page: 1, limit: limit}
}

// SetPage moves to page n, clamped into [1, totalPages]. Before the total is
// known only the lower bound applies. It reports whether the page changed.
func (c *Controller) SetPage(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n = c.clamp(n)
	if n == c.page {
		return false
	}
	c.page = n
	return true
}

// SetLimit changes the page size. The page is kept and clamped on the next
// read once the new total is known.
func (c *Controller) SetLimit(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 1 || n == c.limit {
		return false
	}
	c.limit = n
	return true
}

// SetTotalPages records the page count reported by the remote. Values below
// 1 count as a single page.
func (c *Controller) SetTotalPages(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 1 {
		n = 1
	}
	c.totalPages = n
}

// OnFiltersChanged observes the filters of the view and resets to page 1 when
// any non paging field differs from the last observed set. Page and limit
// are ignored so a page change never triggers the reset. The first
// observation only records the set. It reports whether the page was reset.
func (c *Controller) OnFiltersChanged(f filters.Set) bool {
	next := withoutPaging(f)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.observed == nil {
		c.observed = next
		return false
	}
	if c.observed.Equal(next) {
		return false
	}
	c.observed = next
	c.page = 1
	return true
}

// Page returns the current page, committing any pending clamp.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.page = c.clamp(c.page)
	return c.page
}

// Limit returns the page size.
func (c *Controller) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// TotalPages returns the last recorded page count, 0 when unknown.
func (c *Controller) TotalPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalPages
}

// State returns the clamped pagination state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.page = c.clamp(c.page)
	return State{Page: c.page, Limit: c.limit}
}

// Apply returns a copy of f carrying the current page and limit.
func (c *Controller) Apply(f filters.Set) filters.Set {
	st := c.State()
	out := f.Clone()
	out[filters.PageField] = st.Page
	out[filters.LimitField] = st.Limit
	return out
}

func (c *Controller) clamp(n int) int {
	if c.totalPages > 0 && n > c.totalPages {
		n = c.totalPages
	}
	if n < 1 {
		n = 1
	}
	return n
}

func withoutPaging(f filters.Set) filters.Set {
	out := f.Clone()
	delete(out, filters.PageField)
	delete(out, filters.LimitField)
	return out
}
