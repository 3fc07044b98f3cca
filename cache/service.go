package cache

import "context"

// View is a typed snapshot of a cached page with the list selectors.
type View[T any] struct {
	Snapshot
	Page Page[T]
}

// ViewOf converts a snapshot holding a Page[T]. Missing or foreign data
// yields an empty page.
func ViewOf[T any](s Snapshot) View[T] {
	page, ok := s.Data.(Page[T])
	if !ok {
		page = NewPage[T](nil, 0, 1, 1)
	}
	return View[T]{Snapshot: s, Page: page}
}

// Items returns the items of the cached page.
func (v View[T]) Items() []T { return v.Page.Items }

// TotalCount returns the remote total across all pages.
func (v View[T]) TotalCount() int { return v.Page.TotalCount }

// CurrentPage returns the 1-based page number held.
func (v View[T]) CurrentPage() int {
	if v.Page.Page < 1 {
		return 1
	}
	return v.Page.Page
}

// TotalPages returns the page count, never below 1.
func (v View[T]) TotalPages() int {
	if v.Page.TotalPages < 1 {
		return 1
	}
	return v.Page.TotalPages
}

// Fetch is a type-safe wrapper around Store.Fetch for paged collections.
func Fetch[T any](ctx context.Context, s *Store, key Key, fetchFn FetchFn[Page[T]], opts ...FetchOption) (View[T], error) {
	if fetchFn == nil {
		return View[T]{}, ErrNilFetcher
	}
	snap, err := s.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		page, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}
		return page.Normalize(), nil
	}, opts...)
	return ViewOf[T](snap), err
}

// FetchValue is a type-safe wrapper around Store.Fetch for single values
// such as detail entities or counters.
func FetchValue[T any](ctx context.Context, s *Store, key Key, fetchFn FetchFn[T], opts ...FetchOption) (T, Snapshot, error) {
	if fetchFn == nil {
		var zero T
		return zero, Snapshot{}, ErrNilFetcher
	}
	snap, err := s.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}, opts...)
	v, _ := snap.Data.(T)
	return v, snap, err
}

// WritePage applies a typed updater to the page held for key. An absent page
// is passed as an empty one.
func WritePage[T any](s *Store, key Key, updater func(Page[T]) Page[T]) error {
	if updater == nil {
		return ErrNilUpdater
	}
	return s.Write(key, func(old any) any {
		page, ok := old.(Page[T])
		if !ok {
			page = EmptyPage[T](key)
		}
		return updater(page).Normalize()
	})
}

// EmptyPage returns an empty page whose page and limit come from the key
// filters when present.
func EmptyPage[T any](key Key) Page[T] {
	page, limit := 1, 1
	if n, ok := key.filters["page"].(int); ok && n > 0 {
		page = n
	}
	if n, ok := key.filters["limit"].(int); ok && n > 0 {
		limit = n
	}
	return NewPage[T]([]T{}, 0, page, limit)
}
