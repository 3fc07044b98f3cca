// Package cache holds the in-memory cache that fronts paginated remote
// collections.
//
// # Overview
//
// The package exports three building blocks:
//
//   - KeyBuilder: derives a Key from (resource, operation, normalized filters)
//   - Store: caches results per key with freshness, de-duplication and GC
//   - Page / View: the canonical page shape and its read selectors
//
// # Keys
//
// Keys are built from normalized filter sets (see the filters package). Map
// fields are serialized in sorted order so two sets holding the same values
// always produce the same key, whatever order they were assembled in:
//
//	keys := cache.NewKeyBuilder()
//	key, _ := keys.Build("orders", cache.OpList, schema.Normalize(raw))
//
// Resource and operation names are snake_cased, so "OrderItems" and
// "order_items" address the same entries.
//
// # Fetching
//
// Fetch follows stale-while-revalidate:
//
//  1. Fresh data is returned without calling the fetcher
//  2. Stale data is returned immediately and refreshed in the background
//  3. Without data the caller waits for the single in-flight fetch
//
// Concurrent calls for the same key share one fetch. Each fetch gets a per-key
// sequence number and a response older than the last applied one is dropped,
// so a slow early request never overwrites a fast later one.
//
//	view, err := cache.Fetch(ctx, store, key, func(ctx context.Context) (cache.Page[Order], error) {
//		return api.ListOrders(ctx, query)
//	})
//	if err != nil {
//		return err // invalid key, disposed store or ctx cancelled
//	}
//	if view.IsError() {
//		// view.Items() still holds the last good page
//	}
//
// # Invalidation and writes
//
// Invalidate marks entries stale by Matcher. Subscribed entries refetch right
// away; the rest refetch when next read. Write mutates cached data in place
// and is what optimistic updates build on; it never changes freshness.
//
// # Garbage collection
//
// Subscribe and Unsubscribe reference count consumers. An entry without
// consumers is removed once its GC time elapses. Unsubscribing never cancels a
// running fetch.
package cache
