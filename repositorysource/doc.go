// Package repositorysource serves collections from a go-repository-bun
// repository, so a server or BFF process can put the same cache in front of
// its own database.
//
// # Overview
//
// Source implements collection.Source. It decodes the flat query with the
// collection schema and turns it into select criteria:
//
//   - page and limit become LIMIT and OFFSET
//   - every filter that differs from its default becomes an equality WHERE
//   - filters registered with WithSearch become a case insensitive match over
//     one or more columns
//   - filters registered with WithCompare use the given operator, which is
//     how date ranges are expressed
//
// Filter names map to snake_case columns unless WithColumn says otherwise.
//
// # Basic Usage
//
//	schema := filters.NewSchema(append(filters.Paging(25),
//		filters.String("status"),
//		filters.String("search"),
//		filters.Date("dateFrom"),
//	)...)
//
//	src := repositorysource.New[Ticket](ticketRepo, schema,
//		repositorysource.WithSearch("search", "subject", "requester"),
//		repositorysource.WithCompare("dateFrom", "created_at", ">="),
//		repositorysource.WithOrder("created_at DESC"),
//		repositorysource.WithStore(store, "tickets"),
//	)
//
//	tickets, _ := collection.New[Ticket](store, keys, "tickets", schema, src)
//
// # Writes
//
// Create, Update and Delete pass through to the repository. When a store is
// attached every cached entry of the resource is invalidated after a
// successful write, since a new or changed row can move between pages and
// change totals.
package repositorysource
